package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

func (s *HTTPServer) projectRoutes(r chi.Router) {
	r.Get("/me", s.handleMe)
	r.Patch("/settings", s.handleUpdateSettings)

	r.Get("/members", s.handleListMembers)
	r.Put("/members/{userId}", s.handleUpsertMember)
	r.Delete("/members/{userId}", s.handleRemoveMember)

	r.Get("/search", s.handleSearch)

	r.Get("/proposed-changes", s.handleListChanges)
	r.Post("/proposed-changes/{id}/approve", s.handleApproveChange)
	r.Post("/proposed-changes/{id}/reject", s.handleRejectChange)

	r.Get("/credits", s.handleBalance)
	r.Get("/credits/transactions", s.handleTransactions)
	r.Post("/credits/adjust", s.handleAdjustCredits)
	r.Post("/credits/checkout", s.handleCheckout)

	r.Get("/records", s.handleListRecords)
	r.Post("/records", s.handleCreateRecord)
	r.Route("/records/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetRecord)
		r.Patch("/", s.handleUpdateRecord)
		r.Delete("/", s.handleDeleteRecord)
		r.Post("/lock", s.handleAcquireLock)
		r.Delete("/lock", s.handleReleaseLock)
		r.Post("/review", s.handleRecordReview)
		r.Post("/reject", s.handleRecordReject)
		r.Post("/unpublish", s.handleRecordUnpublish)
		r.Post("/reopen", s.handleRecordReopen)
		r.Post("/verify-field", s.handleVerifyField)
		r.Post("/propose-change", s.handleProposeChange)
		r.Post("/verification-requests", s.handleCreateVerificationRequest)
		r.Get("/history", s.handleRecordHistory)
		r.Get("/audit", s.handleRecordAudit)
		r.Get("/evidence", s.handleListEvidence)
		r.Post("/evidence", s.handleUploadEvidence)
		r.Get("/export", s.handleExport)
		r.Post("/assist", s.handleAssist)
	})
}

func projectSlug(r *http.Request) string {
	return chi.URLParam(r, "slug")
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Me(r.Context(), sessionFrom(r).UserID, projectSlug(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body SettingsInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.UpdateSettings(r.Context(), sessionFrom(r).UserID, projectSlug(r), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), sessionFrom(r).UserID, projectSlug(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "members": members})
}

func (s *HTTPServer) handleUpsertMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	var body MemberInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	member, err := s.service.UpsertMember(r.Context(), sessionFrom(r).UserID, projectSlug(r), memberID, body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "member": member})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	if err := s.service.RemoveMember(r.Context(), sessionFrom(r).UserID, projectSlug(r), memberID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	q := r.URL.Query()
	resp, err := s.service.Search(r.Context(), sessionFrom(r).UserID, projectSlug(r), q.Get("q"), q.Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	q := r.URL.Query()
	records, err := s.service.ListRecords(r.Context(), sessionFrom(r).UserID, projectSlug(r), ListRecordsInput{
		Status:     q.Get("status"),
		RecordType: q.Get("type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	now := s.service.now()
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, recordView(rec, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": out})
}

func (s *HTTPServer) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var body RecordInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rec, err := s.service.CreateRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "record": recordView(rec, s.service.now())})
}

func (s *HTTPServer) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.service.GetRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "record": recordView(rec, s.service.now())})
}

func (s *HTTPServer) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Data fields.Payload `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rec, err := s.service.UpdateRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body.Data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "record": recordView(rec, s.service.now())})
}

func (s *HTTPServer) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.service.DeleteRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		TTLSeconds int `json:"ttl_seconds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	lock, err := s.service.AcquireLock(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lock": lockView(lock)})
}

func (s *HTTPServer) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.service.ReleaseLock(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lock": nil})
}

func (s *HTTPServer) writeTransition(w http.ResponseWriter, result TransitionResult) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"verification_status": result.Record.Status.Label(result.Record.Family),
		"message":             result.Message,
		"record":              recordView(result.Record, s.service.now()),
	})
}

func (s *HTTPServer) handleRecordReview(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := s.service.ReviewRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.writeTransition(w, result)
}

func (s *HTTPServer) handleRecordReject(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.RejectRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.writeTransition(w, result)
}

func (s *HTTPServer) handleRecordUnpublish(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.UnpublishRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.writeTransition(w, result)
}

func (s *HTTPServer) handleRecordReopen(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := s.service.ReopenRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.writeTransition(w, result)
}

func (s *HTTPServer) handleVerifyField(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Field    string `json:"field"`
		Verified *bool  `json:"verified"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	verified := true
	if body.Verified != nil {
		verified = *body.Verified
	}
	rec, err := s.service.VerifyField(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body.Field, verified)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"record":        recordView(rec, s.service.now()),
		"verifiedField": strings.TrimSpace(body.Field),
		"verified":      verified,
	})
}

func (s *HTTPServer) handleProposeChange(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body ProposeInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	change, err := s.service.ProposeChange(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"id":        change.ID,
		"record_id": change.RecordID,
		"status":    change.Status,
		"message":   "Change submitted for review",
	})
}

func (s *HTTPServer) handleListChanges(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	changes, err := s.service.ListProposedChanges(r.Context(), sessionFrom(r).UserID, projectSlug(r), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(changes))
	for _, change := range changes {
		out = append(out, changeView(change))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "changes": out})
}

func (s *HTTPServer) handleApproveChange(w http.ResponseWriter, r *http.Request) {
	changeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	change, rec, err := s.service.ApproveChange(r.Context(), sessionFrom(r).UserID, projectSlug(r), changeID, body.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"change":  changeView(change),
		"record":  recordView(rec, s.service.now()),
	})
}

func (s *HTTPServer) handleRejectChange(w http.ResponseWriter, r *http.Request) {
	changeID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	change, err := s.service.RejectChange(r.Context(), sessionFrom(r).UserID, projectSlug(r), changeID, body.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "change": changeView(change)})
}

func (s *HTTPServer) handleCreateVerificationRequest(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body VerificationInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	req, err := s.service.CreateVerificationRequest(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "request": requestView(req)})
}

func (s *HTTPServer) handleRecordHistory(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	commits, err := s.service.RecordHistory(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		out = append(out, commitView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": out})
}

func (s *HTTPServer) handleRecordAudit(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}
	entries, err := s.service.RecordAudit(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": out})
}

func (s *HTTPServer) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := s.service.ListEvidence(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, evidenceView(item.Evidence, item.DownloadURL))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "evidence": out})
}

// handleUploadEvidence takes the raw request body as the evidence bytes.
func (s *HTTPServer) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	defer r.Body.Close()
	sourceURL := r.Header.Get("X-Source-URL")
	if sourceURL == "" {
		sourceURL = r.URL.Query().Get("source_url")
	}
	item, created, err := s.service.UploadEvidence(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID,
		r.Header.Get("Content-Type"), sourceURL, r.Body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"success": true, "created": created, "evidence": evidenceView(item.Evidence, item.DownloadURL)})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := s.service.ExportRecord(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleAssist(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Operation string `json:"operation"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	outcome, err := s.service.RunAssist(r.Context(), sessionFrom(r).UserID, projectSlug(r), recordID, body.Operation)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"operation": outcome.Result.Operation,
		"result":    outcome.Result,
		"balance":   outcome.Balance,
	})
}

func (s *HTTPServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.service.Balance(r.Context(), sessionFrom(r).UserID, projectSlug(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": balanceView(balance)})
}

func (s *HTTPServer) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	txs, err := s.service.Transactions(r.Context(), sessionFrom(r).UserID, projectSlug(r), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "transactions": creditTxViews(txs)})
}

func creditTxViews(txs []store.CreditTransaction) []map[string]any {
	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		out = append(out, creditTxView(tx))
	}
	return out
}

func (s *HTTPServer) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	var body AdjustInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tx, balance, err := s.service.AdjustCredits(r.Context(), sessionFrom(r).UserID, projectSlug(r), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"balance":     balance.Balance,
		"transaction": creditTxView(tx),
	})
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PackageID string `json:"package_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	checkout, err := s.service.CreateCheckout(r.Context(), sessionFrom(r).UserID, projectSlug(r), body.PackageID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": checkout.SessionID,
		"package":    checkout.Package,
	})
}
