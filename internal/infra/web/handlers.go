package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/repository"
	"telegram-image-generation/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error       string   `json:"error"`
	ActiveCount *int     `json:"active_count,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
	Balance     *float64 `json:"balance,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
}

// writeError maps domain errors onto the HTTP surface. Structured errors
// carry their fields in the body so the bot front-end can render them.
func writeError(w http.ResponseWriter, err error) {
	var limitErr *domain.ActiveLimitError
	if errors.As(err, &limitErr) {
		writeJSON(w, http.StatusConflict, errorBody{
			Error:       limitErr.Error(),
			ActiveCount: &limitErr.ActiveCount,
			Limit:       &limitErr.Limit,
		})
		return
	}
	var balErr *domain.ProviderBalanceLowError
	if errors.As(err, &balErr) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:     balErr.Error(),
			Balance:   &balErr.Balance,
			Threshold: &balErr.Threshold,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrParameterInvalid),
		errors.Is(err, domain.ErrParameterNotSupported),
		errors.Is(err, domain.ErrTooManyReferences):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrUserBanned), errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrModelNotFound), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBroadcastNotPending), errors.Is(err, domain.ErrTerminalState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrProviderSubmitFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// ===== Generation endpoints =====

type submitRequest struct {
	TelegramID       int64    `json:"telegram_id"`
	Username         string   `json:"username"`
	ModelID          string   `json:"model_id"`
	Prompt           string   `json:"prompt"`
	Size             string   `json:"size"`
	AspectRatio      string   `json:"aspect_ratio"`
	Resolution       string   `json:"resolution"`
	Quality          string   `json:"quality"`
	InputFidelity    string   `json:"input_fidelity"`
	Language         string   `json:"language"`
	ReferenceURLs    []string `json:"reference_urls"`
	ReferenceFileIDs []string `json:"reference_file_ids"`
	ChatID           int64    `json:"chat_id"`
	MessageID        int      `json:"message_id"`
	PromptMessageID  int      `json:"prompt_message_id"`
}

type requestView struct {
	ID           string                  `json:"id"`
	PublicID     string                  `json:"public_id"`
	ModelKey     string                  `json:"model_key"`
	Status       model.RequestStatus     `json:"status"`
	Cost         int64                   `json:"cost"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

func viewOf(req *model.GenerationRequest) requestView {
	return requestView{
		ID:           req.ID,
		PublicID:     req.PublicID,
		ModelKey:     req.ModelKey,
		Status:       req.Status,
		Cost:         req.Cost,
		ErrorMessage: req.ErrorMessage,
		CreatedAt:    req.CreatedAt,
		CompletedAt:  req.CompletedAt,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if authed := authedTelegramID(r.Context()); authed != 0 {
		req.TelegramID = authed
	}

	out, err := s.submissionUC.Submit(r.Context(), usecase.SubmitCommand{
		TelegramID:       req.TelegramID,
		Username:         req.Username,
		ModelID:          req.ModelID,
		Prompt:           req.Prompt,
		Size:             req.Size,
		AspectRatio:      req.AspectRatio,
		Resolution:       req.Resolution,
		Quality:          req.Quality,
		InputFidelity:    req.InputFidelity,
		Language:         req.Language,
		ReferenceURLs:    req.ReferenceURLs,
		ReferenceFileIDs: req.ReferenceFileIDs,
		ChatID:           req.ChatID,
		MessageID:        req.MessageID,
		PromptMessageID:  req.PromptMessageID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Request       requestView `json:"request"`
		JobID         string      `json:"job_id"`
		UpstreamJobID string      `json:"upstream_job_id,omitempty"`
		TrialUsed     bool        `json:"trial_used"`
	}{viewOf(out.Request), out.JobID, out.UpstreamJobID, out.TrialUsed})
}

func (s *Server) telegramIDParam(r *http.Request) int64 {
	if authed := authedTelegramID(r.Context()); authed != 0 {
		return authed
	}
	id, _ := strconv.ParseInt(r.URL.Query().Get("telegram_id"), 10, 64)
	return id
}

type activeView struct {
	HasActive bool                `json:"has_active"`
	RequestID string              `json:"request_id,omitempty"`
	PublicID  string              `json:"public_id,omitempty"`
	Status    model.RequestStatus `json:"status,omitempty"`
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	tgID := s.telegramIDParam(r)
	if tgID == 0 {
		http.Error(w, "telegram_id is required", http.StatusBadRequest)
		return
	}
	req, err := s.queryUC.Active(r.Context(), tgID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No running generation is a regular answer, not an error.
		writeJSON(w, http.StatusOK, activeView{HasActive: false})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, activeView{
			HasActive: true,
			RequestID: req.ID,
			PublicID:  req.PublicID,
			Status:    req.Status,
		})
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	tgID := s.telegramIDParam(r)
	req, err := s.queryUC.Get(r.Context(), chi.URLParam(r, "id"), tgID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(req))
}

// handleRefresh forces one poll iteration instead of waiting for the next
// tick. Ownership is checked before the poll runs.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tgID := s.telegramIDParam(r)
	if _, err := s.queryUC.Get(r.Context(), id, tgID); err != nil {
		writeError(w, err)
		return
	}
	req, err := s.poller.PollOnce(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(req))
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.queryUC.Results(r.Context(), chi.URLParam(r, "id"), s.telegramIDParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	type resultView struct {
		URL    string `json:"url"`
		FileID string `json:"file_id,omitempty"`
	}
	out := make([]resultView, 0, len(results))
	for _, res := range results {
		out = append(out, resultView{URL: res.URL, FileID: res.FileID})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []resultView `json:"data"`
	}{out})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.catalog.ListActive(r.Context(), repository.NoTX)
	if err != nil {
		writeError(w, err)
		return
	}
	type modelView struct {
		ID           string   `json:"id"`
		Key          string   `json:"key"`
		DisplayName  string   `json:"display_name"`
		TextToImage  bool     `json:"text_to_image"`
		ImageToImage bool     `json:"image_to_image"`
		AspectRatios []string `json:"aspect_ratios,omitempty"`
		Sizes        []string `json:"sizes,omitempty"`
		Resolutions  []string `json:"resolutions,omitempty"`
		Qualities    []string `json:"qualities,omitempty"`
	}
	out := make([]modelView, 0, len(models))
	for _, m := range models {
		out = append(out, modelView{
			ID:           m.ID,
			Key:          m.Key,
			DisplayName:  m.DisplayName,
			TextToImage:  m.Caps.TextToImage,
			ImageToImage: m.Caps.ImageToImage,
			AspectRatios: m.AspectRatios,
			Sizes:        m.Sizes,
			Resolutions:  m.Resolutions,
			Qualities:    m.Qualities,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []modelView `json:"data"`
	}{out})
}

// ===== Admin endpoints =====

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(req.Key), []byte(s.adminKey)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		http.Error(w, "Failed to mint session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Token string `json:"token"`
	}{token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.statsUC.Totals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	byStatus := make(map[string]int, len(stats.GenerationsByStatus))
	for k, v := range stats.GenerationsByStatus {
		byStatus[string(k)] = v
	}
	writeJSON(w, http.StatusOK, struct {
		TotalUsers          int            `json:"total_users"`
		GenerationsByStatus map[string]int `json:"generations_by_status"`
		CreditsDeposited    int64          `json:"credits_deposited"`
		CreditsCharged      int64          `json:"credits_charged"`
		CreditsRefunded     int64          `json:"credits_refunded"`
	}{stats.TotalUsers, byStatus, stats.CreditsDeposited, stats.CreditsCharged, stats.CreditsRefunded})
}

func (s *Server) handleAdminCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TelegramID int64  `json:"telegram_id"`
		Amount     int64  `json:"amount"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	adj, err := s.ledgerUC.AdminAdjust(r.Context(), req.TelegramID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TelegramID int64  `json:"telegram_id"`
		Amount     int64  `json:"amount"`
		OldBalance int64  `json:"old_balance"`
		NewBalance int64  `json:"new_balance"`
		Reason     string `json:"reason"`
	}{adj.TelegramID, adj.Amount, adj.OldBalance, adj.NewBalance, adj.Reason})
}

// ===== Broadcast endpoints =====

type broadcastView struct {
	ID           string     `json:"id"`
	ContentType  string     `json:"content_type"`
	Filter       string     `json:"filter"`
	Status       string     `json:"status"`
	TotalUsers   int        `json:"total_users"`
	SentCount    int        `json:"sent_count"`
	FailedCount  int        `json:"failed_count"`
	BlockedCount int        `json:"blocked_count"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func broadcastViewOf(b *model.Broadcast) broadcastView {
	return broadcastView{
		ID:           b.ID,
		ContentType:  string(b.ContentType),
		Filter:       string(b.Filter),
		Status:       string(b.Status),
		TotalUsers:   b.TotalUsers,
		SentCount:    b.SentCount,
		FailedCount:  b.FailedCount,
		BlockedCount: b.BlockedCount,
		CreatedAt:    b.CreatedAt,
		StartedAt:    b.StartedAt,
		CompletedAt:  b.CompletedAt,
	}
}

func (s *Server) handleBroadcastCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminID     string `json:"admin_id"`
		ContentType string `json:"content_type"`
		Text        string `json:"text"`
		MediaFileID string `json:"media_file_id"`
		ButtonText  string `json:"button_text"`
		ButtonURL   string `json:"button_url"`
		Filter      string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AdminID == "" {
		req.AdminID = "admin"
	}
	var btn *model.BroadcastButton
	if req.ButtonText != "" && req.ButtonURL != "" {
		btn = &model.BroadcastButton{Text: req.ButtonText, URL: req.ButtonURL}
	}
	b, err := s.broadcastUC.Create(r.Context(), req.AdminID,
		model.BroadcastContentType(req.ContentType), req.Text, req.MediaFileID, btn,
		model.BroadcastFilter(req.Filter))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, broadcastViewOf(b))
}

func (s *Server) handleBroadcastList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.broadcastUC.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]broadcastView, 0, len(list))
	for _, b := range list {
		out = append(out, broadcastViewOf(b))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []broadcastView `json:"data"`
	}{out})
}

func (s *Server) handleBroadcastGet(w http.ResponseWriter, r *http.Request) {
	b, err := s.broadcastUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, broadcastViewOf(b))
}

func (s *Server) handleBroadcastStart(w http.ResponseWriter, r *http.Request) {
	recipients, err := s.broadcastUC.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct {
		Recipients int `json:"recipients"`
	}{recipients})
}

func (s *Server) handleBroadcastCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.broadcastUC.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
