package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizlab-service/internal/app"
	"quizlab-service/internal/domain"
	pgstore "quizlab-service/internal/infra/postgres"
	pgmigrations "quizlab-service/internal/infra/postgres/migrations"
	infraredis "quizlab-service/internal/infra/redis"
)

func TestLabLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := pgstore.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	codes := infraredis.NewCodeCache(redisClient, store, 5*time.Minute)
	activity := infraredis.NewActivityTracker(redisClient, 2*time.Minute)

	labs := app.NewLabService(store, store)
	sessions := app.NewSessionService(store, store, store, store, codes).WithActivityMarker(activity)
	answers := app.NewAnswerService(store, store, store).WithActivityMarker(activity)
	monitor := app.NewMonitorService(store, store, store).WithLiveness(activity)

	teacher, err := store.UpsertUserBySubject(ctx, domain.User{ID: "teacher", Subject: "teacher", Name: "Teach"})
	if err != nil {
		t.Fatalf("upsert teacher: %v", err)
	}
	student, err := store.UpsertUserBySubject(ctx, domain.User{ID: "student", Subject: "student", Name: "Sam"})
	if err != nil {
		t.Fatalf("upsert student: %v", err)
	}
	teacherID := domain.Identity{UserID: teacher.ID}
	studentID := domain.Identity{UserID: student.ID}

	lab, err := labs.CreateLab(ctx, app.CreateLabArgs{
		Name:         "Chemistry Lab",
		Topics:       []string{"stoichiometry"},
		Difficulty:   domain.DifficultyCollege,
		QuestionSize: 2,
	}, teacherID)
	if err != nil {
		t.Fatalf("create lab: %v", err)
	}

	var questions []domain.Question
	for i := 0; i < 2; i++ {
		q, err := labs.AddQuestion(ctx, lab.ID, fmt.Sprintf("Question %d", i+1), "", []app.NewOption{
			{Text: "right", IsCorrect: true},
			{Text: "wrong"},
		}, teacherID)
		if err != nil {
			t.Fatalf("add question %d: %v", i, err)
		}
		questions = append(questions, q)
	}
	if _, err := labs.PublishLab(ctx, lab.ID, teacherID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	started, err := sessions.StartOrResume(ctx, lab.AccessCode, studentID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// Answer the first question right through the frozen-correctness path.
	opts, err := store.ListOptionsByQuestion(ctx, questions[0].ID)
	if err != nil {
		t.Fatalf("list options: %v", err)
	}
	var rightID, wrongID string
	for _, o := range opts {
		if o.IsCorrect {
			rightID = o.ID
		} else {
			wrongID = o.ID
		}
	}
	if err := answers.SaveAnswer(ctx, started.SessionID, questions[0].ID, wrongID, studentID); err != nil {
		t.Fatalf("save wrong answer: %v", err)
	}
	if err := answers.SaveAnswer(ctx, started.SessionID, questions[0].ID, rightID, studentID); err != nil {
		t.Fatalf("overwrite answer: %v", err)
	}

	snap, err := monitor.Snapshot(ctx, lab.ID, teacherID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.InProgress != 1 || snap.LiveCount != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	result, err := sessions.Submit(ctx, started.SessionID, studentID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 50 || result.Correct != 1 || result.Total != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// Resolution goes through redis; a second lookup must not hit postgres
	// error paths and must agree with the first.
	preview, err := sessions.ResolveAccessCode(ctx, lab.AccessCode, studentID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if preview.LabID != lab.ID || preview.AttemptsUsed != 1 {
		t.Fatalf("unexpected preview: %+v", preview)
	}
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quizlab", "POSTGRES_PASSWORD": "quizlabpass", "POSTGRES_DB": "quizlabdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quizlab:quizlabpass@%s:%s/quizlabdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
