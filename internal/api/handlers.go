package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/personalize"
	"github.com/sendquill/sendquill/internal/pkg/httputil"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/service/campaign"
	"github.com/sendquill/sendquill/internal/service/contact"
	"github.com/sendquill/sendquill/internal/service/sending"
	"github.com/sendquill/sendquill/internal/service/template"
)

// Deps are the services the handlers call. Tokens may be nil when the
// configured transport does not need a user token.
type Deps struct {
	Campaigns CampaignService
	Contacts  ContactService
	Templates TemplateService
	Sender    CampaignSender
	Tokens    TokenSource
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	campaigns CampaignService
	contacts  ContactService
	templates TemplateService
	sender    CampaignSender
	tokens    TokenSource
	validate  *validator.Validate
}

// NewHandlers creates a new handlers instance
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		campaigns: d.Campaigns,
		contacts:  d.Contacts,
		templates: d.Templates,
		sender:    d.Sender,
		tokens:    d.Tokens,
		validate:  validator.New(),
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

type campaignListResponse struct {
	Campaigns []domain.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	f := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	list, total, err := h.campaigns.List(r.Context(), UserID(r.Context()), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	httputil.OK(w, campaignListResponse{Campaigns: list, Total: total})
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), UserID(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at" validate:"required"`
}

func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.BadRequest(w, "scheduled_at is required")
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), *req.ScheduledAt)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) UnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Unschedule(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.campaigns.Stats(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, st)
}

// =============================================================================
// SENDING
// =============================================================================

type runResponse struct {
	Enqueued *int `json:"enqueued,omitempty"`
	*sending.Result
}

func (h *Handlers) accessToken(ctx context.Context, userID string) (string, error) {
	if h.tokens == nil {
		return "", nil
	}
	return h.tokens.AccessToken(ctx, userID)
}

// respondRun writes a sender outcome. A run that stopped on an error still
// returns its partial result in the error details.
func respondRun(w http.ResponseWriter, resp runResponse, err error) {
	if err != nil {
		if resp.Result != nil {
			writeErrorWith(w, err, resp)
			return
		}
		writeError(w, err)
		return
	}
	httputil.OK(w, resp)
}

// SendCampaign starts a DRAFT or SCHEDULED campaign and delivers it within
// the request.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, id := UserID(ctx), chi.URLParam(r, "id")

	if _, err := h.campaigns.Get(ctx, uid, id); err != nil {
		writeError(w, err)
		return
	}
	token, err := h.accessToken(ctx, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := h.campaigns.Start(ctx, uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("send requested", "campaign_id", id, "user_id", uid, "recipients", n)

	res, err := h.sender.Process(ctx, uid, id, token)
	respondRun(w, runResponse{Enqueued: &n, Result: res}, err)
}

// ProcessCampaign re-invokes delivery for a campaign already in SENDING.
func (h *Handlers) ProcessCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, id := UserID(ctx), chi.URLParam(r, "id")

	token, err := h.accessToken(ctx, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.sender.Process(ctx, uid, id, token)
	respondRun(w, runResponse{Result: res}, err)
}

func (h *Handlers) ResendRecipient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := UserID(ctx)

	token, err := h.accessToken(ctx, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.sender.Resend(ctx, uid, chi.URLParam(r, "id"), chi.URLParam(r, "rid"), token)
	respondRun(w, runResponse{Result: res}, err)
}

func (h *Handlers) ResendFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := UserID(ctx)

	token, err := h.accessToken(ctx, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.sender.ResendFailed(ctx, uid, chi.URLParam(r, "id"), token)
	respondRun(w, runResponse{Result: res}, err)
}

// =============================================================================
// LISTS & CONTACTS
// =============================================================================

func (h *Handlers) ListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.contacts.ListLists(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if lists == nil {
		lists = []domain.ContactList{}
	}
	httputil.OK(w, map[string]any{"lists": lists})
}

func (h *Handlers) CreateList(w http.ResponseWriter, r *http.Request) {
	var in contact.CreateListInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	l, err := h.contacts.CreateList(r.Context(), UserID(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, l)
}

func (h *Handlers) AddContacts(w http.ResponseWriter, r *http.Request) {
	var in contact.AddContactsInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := h.contacts.AddContacts(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	list, total, err := h.contacts.ListContacts(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Contact{}
	}
	httputil.OK(w, map[string]any{"contacts": list, "total": total})
}

// =============================================================================
// TEMPLATES & MERGE TAGS
// =============================================================================

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.templates.List(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Template{}
	}
	httputil.OK(w, map[string]any{"templates": list})
}

func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in template.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	t, err := h.templates.Create(r.Context(), UserID(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, t)
}

func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, t)
}

// MergeTags lists the built-in personalization tags for the editor.
func (h *Handlers) MergeTags(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{"merge_tags": personalize.MergeTags()})
}
