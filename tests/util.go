package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/mail"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/volatiletech/null/v8"
	_ "modernc.org/sqlite"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/finance"
	"github.com/trezcool/portal/core/meeting"
	"github.com/trezcool/portal/core/training"
	"github.com/trezcool/portal/core/user"
	"github.com/trezcool/portal/fs"
	"github.com/trezcool/portal/storage/database"
)

const (
	DriverName     = "sqlite"
	MigrateDialect = "sqlite3"

	// Password satisfies the password policy.
	Password = "Sup3r-Secr3t!"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
)

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
	goose.SetLogger(goose.NopLogger())
}

// NewConfig returns the configuration used by tests, with a runtime-generated RSA key pair.
func NewConfig(t testing.TB) *core.Config {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if key, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			t.Fatalf("rsa.GenerateKey(): %v", err)
		}
	})
	return &core.Config{
		Env:                       "TEST",
		Build:                     "test",
		Debug:                     true,
		TestMode:                  true,
		AppName:                   "Portal",
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://frontend.test",
		DefaultFromEmail:          mail.Address{Name: "Portal", Address: "noreply@portal.test"},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server:                    core.ServerConfig{Port: "3000", ShutdownTimeout: time.Second},
		JWT: core.JWTConfig{
			PrivateKey:             key,
			PublicKey:              &key.PublicKey,
			ExpirationDelta:        time.Hour,
			RefreshExpirationDelta: 7 * 24 * time.Hour,
		},
		Storage: core.StorageConfig{SignedURLExpiration: 15 * time.Minute},
		Login:   core.LoginConfig{MaxAttempts: 3, Lockout: 15 * time.Minute},
	}
}

// PrepareDB opens a fresh, migrated SQLite database closed at the end of the test.
func PrepareDB(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		t.Fatalf("sqlx.Open(): %v", err)
	}
	db.SetMaxOpenConns(1)
	if err = database.Migrate(db.DB, MigrateDialect); err != nil {
		t.Fatalf("database.Migrate(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// ResetDB empties every table.
func ResetDB(t testing.TB, db *sqlx.DB) {
	t.Helper()
	tables := []string{
		"submodule_permissions", "module_permissions", "training_permissions",
		"lessons", "training_submodules", "training_modules", "trainings",
		"refunds", "payment_requests", "payments",
		"meeting_attendees", "meetings",
		"users",
	}
	for _, tbl := range tables {
		if _, err := db.Exec("DELETE FROM " + tbl); err != nil {
			t.Fatalf("ResetDB(): %v", err)
		}
	}
}

// NewValidator returns a validator loaded with every custom validation, and the translator holding their messages.
func NewValidator(t testing.TB) (*validator.Validate, ut.Translator) {
	t.Helper()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	pwds, err := user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsPath)
	if err != nil {
		t.Fatalf("LoadCommonPasswords(): %v", err)
	}
	user.InitValidators(validate, translator, pwds)
	return validate, translator
}

// EmailTemplates parses the embedded email templates.
func EmailTemplates(t testing.TB, conf *core.Config) *core.EmailTemplates {
	t.Helper()
	tmpls, err := core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf)
	if err != nil {
		t.Fatalf("ParseEmailTemplates(): %v", err)
	}
	return tmpls
}

// CreateUser inserts a user; an empty pwd stands for Password.
func CreateUser(
	t testing.TB,
	repo user.Repository,
	name, email, document, pwd string,
	profile user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	status := user.StatusActive
	if !isActive {
		status = user.StatusInactive
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Document:  document,
		Profile:   profile,
		Status:    status,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd == "" {
		pwd = Password
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateMeeting inserts a meeting with attendees, bypassing the conflict check.
func CreateMeeting(t testing.TB, repo meeting.Repository, creator user.User, title string, date time.Time, attendees ...user.User) meeting.Meeting {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	mtg, err := repo.CreateMeeting(ctx, meeting.Meeting{
		Title:       title,
		Link:        "https://meet.test/" + title,
		MeetingDate: date.UTC(),
		Status:      meeting.StatusPending,
		CreatedBy:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("createMeeting() failed: %v", err)
	}
	links := make([]meeting.AttendeeLink, 0, len(attendees))
	for _, a := range attendees {
		links = append(links, meeting.AttendeeLink{UserID: a.ID, MeetingID: mtg.ID})
	}
	if err = repo.AddAttendees(ctx, links); err != nil {
		t.Fatalf("createMeeting() failed: %v", err)
	}
	return mtg
}

// CreateEntry inserts a PENDING finance entry.
func CreateEntry(t testing.TB, repo finance.Repository, kind finance.Kind, usr, creator user.User, amount int64) finance.Entry {
	t.Helper()
	now := time.Now().UTC()
	e, err := repo.CreateEntry(context.Background(), kind, finance.Entry{
		UserID:      usr.ID,
		Amount:      amount,
		Description: "entry",
		Status:      finance.StatusPending,
		CreatedBy:   creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("createEntry() failed: %v", err)
	}
	return e
}

// TrainingTree is a training with two modules: the first holds two submodules, the second one.
type TrainingTree struct {
	Training   training.Training
	Modules    []training.Module
	Submodules []training.Submodule
	Lessons    []training.Lesson
}

// Nodes lists every node of the tree.
func (tt TrainingTree) Nodes() []training.Node {
	nodes := []training.Node{{Level: training.LevelTraining, ID: tt.Training.ID}}
	for _, m := range tt.Modules {
		nodes = append(nodes, training.Node{Level: training.LevelModule, ID: m.ID})
	}
	for _, s := range tt.Submodules {
		nodes = append(nodes, training.Node{Level: training.LevelSubmodule, ID: s.ID})
	}
	return nodes
}

// CreateTrainingTree inserts a training with its modules, submodules and one lesson per submodule.
func CreateTrainingTree(t testing.TB, repo training.Repository, title string) TrainingTree {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	fail := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("createTrainingTree() failed: %v", err)
		}
	}

	var tree TrainingTree
	var err error
	tree.Training, err = repo.CreateTraining(ctx, training.Training{Title: title, CreatedAt: now, UpdatedAt: now})
	fail(err)

	for i, subCount := range []int{2, 1} {
		m, err := repo.CreateModule(ctx, training.Module{TrainingID: tree.Training.ID, Title: title + " module", Position: i})
		fail(err)
		tree.Modules = append(tree.Modules, m)

		for j := 0; j < subCount; j++ {
			s, err := repo.CreateSubmodule(ctx, training.Submodule{ModuleID: m.ID, Title: title + " submodule", Position: j})
			fail(err)
			tree.Submodules = append(tree.Submodules, s)

			l, err := repo.CreateLesson(ctx, training.Lesson{SubmoduleID: s.ID, Title: title + " lesson", Content: null.StringFrom("content")})
			fail(err)
			tree.Lessons = append(tree.Lessons, l)
		}
	}
	return tree
}
