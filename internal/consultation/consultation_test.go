package consultation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/cara/internal/models"
	"github.com/xaenox/cara/internal/session"
	"github.com/xaenox/cara/internal/storage"
	"go.uber.org/zap"
)

type staticUser string

func (s staticUser) UserID() (string, error) {
	if s == "" {
		return "", session.ErrNoSession
	}
	return string(s), nil
}

// recordingGateway captures create payloads and can inject failures.
type recordingGateway struct {
	*storage.MemoryStorage
	created   []storage.Record
	createErr error
	deleteErr error
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{MemoryStorage: storage.NewMemoryStorage()}
}

func (g *recordingGateway) Create(ctx context.Context, collection string, fields storage.Record) (storage.Record, error) {
	g.created = append(g.created, fields)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.MemoryStorage.Create(ctx, collection, fields)
}

func (g *recordingGateway) Delete(ctx context.Context, collection, id string) error {
	if g.deleteErr != nil {
		return g.deleteErr
	}
	return g.MemoryStorage.Delete(ctx, collection, id)
}

func seed(t *testing.T, gw storage.Gateway, userID string, items ...storage.Record) []string {
	t.Helper()
	ids := make([]string, 0, len(items))
	for _, fields := range items {
		fields["userId"] = userID
		rec, err := gw.Create(context.Background(), "consultations", fields)
		require.NoError(t, err)
		ids = append(ids, rec.ID())
	}
	return ids
}

func sample() []models.Consultation {
	return []models.Consultation{
		{ID: "1", Topic: "GDPR Compliance", Description: "Cookie banners", Status: models.StatusActive},
		{ID: "2", Topic: "Data Privacy", Description: "Retention of gdpr logs", Status: models.StatusCompleted},
		{ID: "3", Topic: "SOX", Description: "Quarterly controls"},
		{ID: "4", Topic: "PCI DSS", Description: "Card data", Status: models.StatusActive},
		{ID: "5", Topic: "HIPAA", Description: "Patient records", Status: models.StatusPending},
	}
}

func ids(items []models.Consultation) []string {
	out := make([]string, 0, len(items))
	for _, c := range items {
		out = append(out, c.ID)
	}
	return out
}

func TestFilterSearchIsCaseInsensitiveOverTopicAndDescription(t *testing.T) {
	items := sample()

	assert.Equal(t, []string{"1", "2"}, ids(Filter(items, "GdPr", FilterAll)))
	assert.Equal(t, []string{"3"}, ids(Filter(items, "controls", FilterAll)))
	assert.Empty(t, Filter(items, "nothing matches", FilterAll))
	assert.Equal(t, items, Filter(items, "", FilterAll))
}

func TestFilterStatus(t *testing.T) {
	items := sample()

	assert.Equal(t, []string{"1", "4"}, ids(Filter(items, "", FilterActive)))
	assert.Equal(t, []string{"2"}, ids(Filter(items, "", FilterCompleted)))
	assert.Equal(t, []string{"3", "5"}, ids(Filter(items, "", FilterPending)))
	assert.Equal(t, []string{"1"}, ids(Filter(items, "gdpr", FilterActive)))
}

func TestCountsAddUp(t *testing.T) {
	counts := CountStatuses(sample())

	assert.Equal(t, Counts{Total: 5, Active: 2, Completed: 1, Pending: 2}, counts)
	assert.Equal(t, counts.Total, counts.Active+counts.Completed+counts.Pending)
}

func TestParseStatusFilter(t *testing.T) {
	f, err := ParseStatusFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	f, err = ParseStatusFilter(" Pending ")
	require.NoError(t, err)
	assert.Equal(t, FilterPending, f)

	_, err = ParseStatusFilter("archived")
	assert.Error(t, err)
}

func TestHubLoadIsScopedToSessionUser(t *testing.T) {
	gw := newRecordingGateway()
	seed(t, gw, "user-1", storage.Record{"topic": "A"}, storage.Record{"topic": "B"})
	seed(t, gw, "user-2", storage.Record{"topic": "C"})

	hub := NewHub(NewRepository(gw, "consultations", zap.NewNop()), staticUser("user-1"), zap.NewNop())
	items, err := hub.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, items, 2)
	for _, c := range items {
		assert.Equal(t, "user-1", c.UserID)
	}
	assert.Equal(t, "B", items[0].Topic)
	assert.True(t, hub.Loaded())
}

func TestHubLoadWithoutSession(t *testing.T) {
	hub := NewHub(NewRepository(storage.NewMemoryStorage(), "", zap.NewNop()), staticUser(""), zap.NewNop())
	_, err := hub.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestHubDeleteRecomputesCounts(t *testing.T) {
	gw := newRecordingGateway()
	created := seed(t, gw, "user-1",
		storage.Record{"topic": "A", "status": "active"},
		storage.Record{"topic": "B", "status": "active"},
		storage.Record{"topic": "C", "status": "completed"},
		storage.Record{"topic": "D"},
		storage.Record{"topic": "E"},
	)

	hub := NewHub(NewRepository(gw, "consultations", zap.NewNop()), staticUser("user-1"), zap.NewNop())
	_, err := hub.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Counts{Total: 5, Active: 2, Completed: 1, Pending: 2}, hub.Counts())

	target := created[0]
	require.NoError(t, hub.Delete(context.Background(), target))

	items := hub.Items()
	assert.Len(t, items, 4)
	assert.NotContains(t, ids(items), target)
	assert.Equal(t, Counts{Total: 4, Active: 1, Completed: 1, Pending: 2}, hub.Counts())

	_, err = gw.GetOne(context.Background(), "consultations", target)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHubDeleteFailureKeepsList(t *testing.T) {
	gw := newRecordingGateway()
	created := seed(t, gw, "user-1", storage.Record{"topic": "A"}, storage.Record{"topic": "B"})

	hub := NewHub(NewRepository(gw, "consultations", zap.NewNop()), staticUser("user-1"), zap.NewNop())
	_, err := hub.Load(context.Background())
	require.NoError(t, err)

	gw.deleteErr = &storage.Error{Op: "delete", Kind: storage.ErrNetwork}
	err = hub.Delete(context.Background(), created[0])
	assert.ErrorIs(t, err, storage.ErrNetwork)
	assert.Len(t, hub.Items(), 2)
}

func TestHubDeleteOfVanishedRecord(t *testing.T) {
	gw := newRecordingGateway()
	created := seed(t, gw, "user-1", storage.Record{"topic": "A"})

	hub := NewHub(NewRepository(gw, "consultations", zap.NewNop()), staticUser("user-1"), zap.NewNop())
	_, err := hub.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, gw.MemoryStorage.Delete(context.Background(), "consultations", created[0]))
	require.NoError(t, hub.Delete(context.Background(), created[0]))
	assert.Empty(t, hub.Items())
}

func TestHubComplete(t *testing.T) {
	gw := newRecordingGateway()
	created := seed(t, gw, "user-1", storage.Record{"topic": "A", "status": "active"})

	hub := NewHub(NewRepository(gw, "consultations", zap.NewNop()), staticUser("user-1"), zap.NewNop())
	_, err := hub.Load(context.Background())
	require.NoError(t, err)

	updated, err := hub.Complete(context.Background(), created[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	c, ok := hub.Find(created[0])
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, c.Status)
	assert.Equal(t, 1, hub.Counts().Completed)
}

func TestHubRefusesOtherUsersConsultations(t *testing.T) {
	gw := newRecordingGateway()
	foreign := seed(t, gw, "user-2", storage.Record{"topic": "Theirs", "status": "active"})[0]

	hub := NewHub(NewRepository(gw, "consultations", zap.NewNop()), staticUser("user-1"), zap.NewNop())
	ctx := context.Background()

	_, err := hub.Get(ctx, foreign)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, hub.Delete(ctx, foreign), ErrNotOwner)

	_, err = hub.Complete(ctx, foreign)
	assert.ErrorIs(t, err, ErrNotOwner)

	rec, err := gw.GetOne(ctx, "consultations", foreign)
	require.NoError(t, err)
	assert.Equal(t, "active", rec["status"])
}

func TestRepositoryGetOwned(t *testing.T) {
	gw := newRecordingGateway()
	id := seed(t, gw, "user-1", storage.Record{"topic": "Mine"})[0]
	repo := NewRepository(gw, "consultations", zap.NewNop())

	c, err := repo.GetOwned(context.Background(), id, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Mine", c.Topic)

	_, err = repo.GetOwned(context.Background(), id, "user-2")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = repo.GetOwned(context.Background(), "missing", "user-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NotErrorIs(t, err, ErrNotOwner)
}

func TestTypeMapIsTotal(t *testing.T) {
	m := NewTypeMap(nil, nil)

	want := map[string]string{
		"gdpr":              "compliance-review",
		"ccpa":              "compliance-review",
		"privacy":           "compliance-review",
		"payments":          "compliance-review",
		"pci-dss":           "compliance-review",
		"sox":               "compliance-review",
		"security":          "risk-assessment",
		"risk":              "risk-assessment",
		"audit":             "audit-preparation",
		"hipaa":             "compliance-review",
		"iso27001":          "audit-preparation",
		"other":             "general",
		"general":           "general",
		"risk-assessment":   "risk-assessment",
		"compliance-review": "compliance-review",
		"audit-preparation": "audit-preparation",
		" GDPR ":            "compliance-review",
		"something else":    "general",
		"":                  "general",
	}
	for choice, wire := range want {
		assert.Equal(t, wire, m.Resolve(choice), "choice %q", choice)
	}
	for _, opt := range TopicOptions {
		assert.NotEmpty(t, m.Resolve(opt.Value))
	}
}

func TestTypeMapAliasesAndAcceptedSet(t *testing.T) {
	m := NewTypeMap(map[string]string{"compliance-review": "comp"}, []string{"general", "risk-assessment", "comp"})

	assert.Equal(t, "comp", m.Resolve("gdpr"))
	assert.Equal(t, "comp", m.Resolve("comp"))
	assert.Equal(t, "risk-assessment", m.Resolve("risk"))
	assert.Equal(t, "general", m.Resolve("audit"))
	assert.Equal(t, models.TypeComplianceReview, m.Canonical("comp"))
}

func ExampleTypeMap_Resolve() {
	m := NewTypeMap(nil, nil)
	fmt.Println(m.Resolve("hipaa"), m.Resolve("audit"), m.Resolve("unknown"))
	// Output: compliance-review audit-preparation general
}
