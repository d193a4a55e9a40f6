package campaign_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/service/campaign"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	contacts   map[string][]string // list id -> contact ids
	recipients map[string]map[string]domain.RecipientStatus
	listOwners map[string]string
	templates  map[string]string // template id -> owner
	enqueueErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns:  make(map[string]*domain.Campaign),
		contacts:   make(map[string][]string),
		recipients: make(map[string]map[string]domain.RecipientStatus),
		listOwners: make(map[string]string),
		templates:  make(map[string]string),
	}
}

// newList registers a list owned by owner holding the given contact ids.
func (m *memRepo) newList(owner string, contacts ...string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.listOwners[id] = owner
	m.contacts[id] = contacts
	return id
}

func (m *memRepo) newTemplate(owner string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.templates[id] = owner
	return id
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, userID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.UserID != userID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[cp.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.Content != nil {
		c.Content = *u.Content
	}
	if u.ListIDs != nil {
		c.ListIDs = *u.ListIDs
	}
	if u.TemplateID != nil {
		c.TemplateID = u.TemplateID
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) Schedule(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = &at
	return nil
}

func (m *memRepo) Unschedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	c.Status = domain.CampaignDraft
	c.ScheduledAt = nil
	return nil
}

func (m *memRepo) StartSending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if !domain.CanTransition(c.Status, domain.CampaignSending) {
		return campaign.ErrInvalidTransition
	}
	c.Status = domain.CampaignSending
	if c.SentAt == nil {
		now := time.Now()
		c.SentAt = &now
	}
	return nil
}

func (m *memRepo) SetStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	if !domain.CanTransition(c.Status, status) {
		return campaign.ErrInvalidTransition
	}
	c.Status = status
	return nil
}

func (m *memRepo) EnqueueRecipients(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return 0, m.enqueueErr
	}
	rs, ok := m.recipients[id]
	if !ok {
		rs = make(map[string]domain.RecipientStatus)
		m.recipients[id] = rs
	}
	n := 0
	for _, list := range m.campaigns[id].ListIDs {
		for _, contact := range m.contacts[list] {
			if _, dup := rs[contact]; dup {
				continue
			}
			rs[contact] = domain.RecipientPending
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CountRecipientsByStatus(_ context.Context, id string) (map[domain.RecipientStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.RecipientStatus]int{}
	for _, st := range m.recipients[id] {
		out[st]++
	}
	return out, nil
}

func (m *memRepo) EventCounts(_ context.Context, _ string) (*campaign.EventCounts, error) {
	return &campaign.EventCounts{Opens: 4, UniqueOpens: 2, Clicks: 1, UniqueClicks: 1}, nil
}

func (m *memRepo) DueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListOwners(_ context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if owner, ok := m.listOwners[id]; ok {
			out[id] = owner
		}
	}
	return out, nil
}

func (m *memRepo) TemplateOwner(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.templates[id]
	if !ok {
		return "", campaign.ErrUnknownReference
	}
	return owner, nil
}

const user = "user-1"

func createDraft(t *testing.T, svc *campaign.Service, lists ...string) *domain.Campaign {
	t.Helper()
	c, err := svc.Create(context.Background(), user, campaign.CreateInput{
		Name:    "Spring launch",
		Subject: "Hello {{firstName}}",
		Content: "<p>Hi</p>",
		ListIDs: lists,
	})
	require.NoError(t, err)
	return c
}

func TestCreate_ValidatesInput(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, user, campaign.CreateInput{Subject: "s"})
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)

	_, err = svc.Create(ctx, user, campaign.CreateInput{Name: "n", Subject: "s", ListIDs: []string{"not-a-uuid"}})
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)

	c := createDraft(t, svc, repo.newList(user))
	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.Equal(t, user, c.UserID)
	assert.NotEmpty(t, c.ID)
}

func TestGet_ChecksOwnership(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	c := createDraft(t, svc)

	_, err := svc.Get(context.Background(), "intruder", c.ID)
	assert.ErrorIs(t, err, campaign.ErrForbidden)

	_, err = svc.Get(context.Background(), user, uuid.NewString())
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestList_FiltersAndNormalizesStatus(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	createDraft(t, svc)
	createDraft(t, svc)

	out, total, err := svc.List(context.Background(), user, campaign.ListFilter{Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, out, 2)

	_, _, err = svc.List(context.Background(), user, campaign.ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)
}

func TestUpdate_OnlyWhileEditable(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	c := createDraft(t, svc)

	name := "Renamed"
	got, err := svc.Update(context.Background(), user, c.ID, campaign.UpdateFields{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	repo.campaigns[c.ID].Status = domain.CampaignSending
	_, err = svc.Update(context.Background(), user, c.ID, campaign.UpdateFields{Name: &name})
	assert.ErrorIs(t, err, campaign.ErrNotEditable)
}

func TestDelete_OnlyDrafts(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	c := createDraft(t, svc)
	repo.campaigns[c.ID].Status = domain.CampaignSent

	assert.ErrorIs(t, svc.Delete(context.Background(), user, c.ID), campaign.ErrNotEditable)

	repo.campaigns[c.ID].Status = domain.CampaignDraft
	require.NoError(t, svc.Delete(context.Background(), user, c.ID))
	_, err := repo.Get(context.Background(), c.ID)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestScheduleAndUnschedule(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	ctx := context.Background()
	c := createDraft(t, svc, repo.newList(user))

	_, err := svc.Schedule(ctx, user, c.ID, time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, campaign.ErrScheduleInPast)

	at := time.Now().Add(time.Hour)
	got, err := svc.Schedule(ctx, user, c.ID, at)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, got.Status)
	require.NotNil(t, got.ScheduledAt)

	got, err = svc.Unschedule(ctx, user, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, got.Status)
	assert.Nil(t, got.ScheduledAt)

	_, err = svc.Unschedule(ctx, user, c.ID)
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestStart_EnqueuesOneRecipientPerContact(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	listA := repo.newList(user, "c1", "c2")
	listB := repo.newList(user, "c2", "c3")
	c := createDraft(t, svc, listA, listB)

	n, err := svc.Start(context.Background(), user, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored := repo.campaigns[c.ID]
	assert.Equal(t, domain.CampaignSending, stored.Status)
	require.NotNil(t, stored.SentAt)

	_, err = svc.Start(context.Background(), user, c.ID)
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestStart_RequiresList(t *testing.T) {
	svc := campaign.NewService(newMemRepo())
	c := createDraft(t, svc)

	_, err := svc.Start(context.Background(), user, c.ID)
	assert.ErrorIs(t, err, campaign.ErrMissingList)
}

func TestStart_EnqueueFailureMarksFailed(t *testing.T) {
	repo := newMemRepo()
	repo.enqueueErr = errors.New("db gone")
	svc := campaign.NewService(repo)
	c := createDraft(t, svc, repo.newList(user))

	_, err := svc.Start(context.Background(), user, c.ID)
	require.Error(t, err)
	assert.Equal(t, domain.CampaignFailed, repo.campaigns[c.ID].Status)
}

func TestStats(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	list := repo.newList(user, "c1", "c2", "c3")
	c := createDraft(t, svc, list)
	_, err := svc.Start(context.Background(), user, c.ID)
	require.NoError(t, err)
	repo.recipients[c.ID]["c1"] = domain.RecipientSent
	repo.recipients[c.ID]["c2"] = domain.RecipientFailed

	st, err := svc.Stats(context.Background(), user, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 2, st.UniqueOpens)
	assert.Equal(t, domain.CampaignSending, st.Status)
}

func TestDueScheduled(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	c := createDraft(t, svc, repo.newList(user))
	past := time.Now().Add(-time.Minute)
	repo.campaigns[c.ID].Status = domain.CampaignScheduled
	repo.campaigns[c.ID].ScheduledAt = &past
	createDraft(t, svc, repo.newList(user))

	due, err := svc.DueScheduled(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].ID)
}

func TestCreate_RejectsForeignReferences(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	ctx := context.Background()
	foreignList := repo.newList("user-2", "victim-contact")
	foreignTemplate := repo.newTemplate("user-2")

	_, err := svc.Create(ctx, user, campaign.CreateInput{
		Name: "n", Subject: "s", ListIDs: []string{repo.newList(user), foreignList},
	})
	assert.ErrorIs(t, err, campaign.ErrForbidden)

	_, err = svc.Create(ctx, user, campaign.CreateInput{
		Name: "n", Subject: "s", TemplateID: foreignTemplate,
	})
	assert.ErrorIs(t, err, campaign.ErrForbidden)

	_, err = svc.Create(ctx, user, campaign.CreateInput{
		Name: "n", Subject: "s", ListIDs: []string{uuid.NewString()},
	})
	assert.ErrorIs(t, err, campaign.ErrUnknownReference)
	assert.True(t, campaign.IsInvalidInput(err))

	assert.Empty(t, repo.campaigns, "nothing is stored when a reference is rejected")

	own, err := svc.Create(ctx, user, campaign.CreateInput{
		Name: "n", Subject: "s", TemplateID: repo.newTemplate(user), ListIDs: []string{repo.newList(user)},
	})
	require.NoError(t, err)
	require.NotNil(t, own.TemplateID)
}

func TestUpdate_RejectsForeignReferences(t *testing.T) {
	repo := newMemRepo()
	svc := campaign.NewService(repo)
	ctx := context.Background()
	mine := repo.newList(user)
	c := createDraft(t, svc, mine)

	foreign := []string{repo.newList("user-2", "victim-contact")}
	_, err := svc.Update(ctx, user, c.ID, campaign.UpdateFields{ListIDs: &foreign})
	assert.ErrorIs(t, err, campaign.ErrForbidden)

	tpl := repo.newTemplate("user-2")
	_, err = svc.Update(ctx, user, c.ID, campaign.UpdateFields{TemplateID: &tpl})
	assert.ErrorIs(t, err, campaign.ErrForbidden)

	stored := repo.campaigns[c.ID]
	assert.Equal(t, []string{mine}, stored.ListIDs)
	assert.Nil(t, stored.TemplateID)

	none := ""
	_, err = svc.Update(ctx, user, c.ID, campaign.UpdateFields{TemplateID: &none})
	require.NoError(t, err)
}
