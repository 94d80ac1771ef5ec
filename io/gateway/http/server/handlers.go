package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/allowlist"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/io/journal"
)

const (
	maxWebhookBody = 5 << 20
	maxUploadBody  = 32 << 20
)

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "health": "ok"})
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}

	user, pass := r.PostForm.Get("username"), r.PostForm.Get("password")
	if s.Config.AdminKey == "" || !equal(user, s.Config.AdminUser) || !equal(pass, s.Config.AdminKey) {
		log.Warnf("failed admin login for %q", user)
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		writeError(w, errors.Wrap(err, "issue token"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

// webhook accepts a notification from the agent. The agent always gets an
// empty success reply once the key matched.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Errorf("failed to read %s webhook: %v", topic, err)
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	// the agent's request must not cancel the follow-up calls made on its behalf
	s.svc.Dispatcher.Dispatch(context.WithoutCancel(r.Context()), topic, body)
	writeJSON(w, http.StatusOK, struct{}{})
}

// reconcile endorses pending transactions the policy now allows. Failures do not
// undo the change that triggered it. The pass outlives a client that disconnects
// after the change was committed.
func (s *Server) reconcile(ctx context.Context) {
	n, err := s.svc.Engine.Reconcile(context.WithoutCancel(ctx))
	if err != nil {
		log.Errorf("failed to re-evaluate pending transactions: %v", err)
		return
	}
	if n > 0 {
		log.Infof("endorsed %d pending transactions after policy change", n)
	}
}

func (s *Server) listPublicDIDs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := page(q)
	if err != nil {
		writeError(w, err)
		return
	}
	items, total, err := s.svc.AllowLists.ListPublicDIDs(q.Get("did"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		list
		Items []*dto.AllowedPublicDID `json:"allowed_public_dids"`
	}{newList(p, len(items), total), items})
}

func (s *Server) addPublicDID(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.AllowLists.AddPublicDID(chi.URLParam(r, "did"), r.URL.Query().Get("details"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) deletePublicDID(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.AllowLists.DeletePublicDID(chi.URLParam(r, "did")); err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) listSchemas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := page(q)
	if err != nil {
		writeError(w, err)
		return
	}
	items, total, err := s.svc.AllowLists.ListSchemas(allowlist.SchemaFilter{
		ID:         q.Get("allowed_schema_id"),
		AuthorDID:  q.Get("author_did"),
		SchemaName: q.Get("schema_name"),
		Version:    q.Get("version"),
	}, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		list
		Items []*dto.AllowedSchema `json:"allowed_schemas"`
	}{newList(p, len(items), total), items})
}

func (s *Server) addSchema(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entry, err := s.svc.AllowLists.AddSchema(dto.AllowedSchema{
		AuthorDID:  wildcard(q, "author_did"),
		SchemaName: wildcard(q, "schema_name"),
		Version:    wildcard(q, "version"),
		Details:    q.Get("details"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) deleteSchema(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("allowed_schema_id")
	if id == "" {
		writeError(w, errors.Wrap(dto.ErrInvalidArgument, "allowed_schema_id is required"))
		return
	}
	if err := s.svc.AllowLists.DeleteSchema(id); err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) listCredDefs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := page(q)
	if err != nil {
		writeError(w, err)
		return
	}
	items, total, err := s.svc.AllowLists.ListCredDefs(allowlist.CredDefFilter{
		ID:         q.Get("allowed_cred_def_id"),
		IssuerDID:  q.Get("issuer_did"),
		AuthorDID:  q.Get("author_did"),
		SchemaName: q.Get("schema_name"),
		Version:    q.Get("version"),
		Tag:        q.Get("tag"),
	}, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		list
		Items []*dto.AllowedCredentialDefinition `json:"allowed_credential_definitions"`
	}{newList(p, len(items), total), items})
}

func (s *Server) addCredDef(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	revDef, err := boolParam(q, "rev_reg_def", true)
	if err != nil {
		writeError(w, err)
		return
	}
	revEntry, err := boolParam(q, "rev_reg_entry", true)
	if err != nil {
		writeError(w, err)
		return
	}

	entry, err := s.svc.AllowLists.AddCredDef(dto.AllowedCredentialDefinition{
		IssuerDID:   wildcard(q, "issuer_did"),
		AuthorDID:   wildcard(q, "author_did"),
		SchemaName:  wildcard(q, "schema_name"),
		Version:     wildcard(q, "version"),
		Tag:         wildcard(q, "tag"),
		RevRegDef:   revDef,
		RevRegEntry: revEntry,
		Details:     q.Get("details"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) deleteCredDef(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("allowed_cred_def_id")
	if id == "" {
		writeError(w, errors.Wrap(dto.ErrInvalidArgument, "allowed_cred_def_id is required"))
		return
	}
	if err := s.svc.AllowLists.DeleteCredDef(id); err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) replaceAllowLists(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, s.svc.AllowLists.Replace)
}

func (s *Server) appendAllowLists(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, s.svc.AllowLists.Append)
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request, apply func(allowlist.Bulk) error) {
	b, err := readBulk(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := apply(b); err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())

	counts := map[string]int{}
	if b.PublicDIDs != nil {
		counts["publish_did"] = len(b.PublicDIDs)
	}
	if b.Schemas != nil {
		counts["schema"] = len(b.Schemas)
	}
	if b.CredDefs != nil {
		counts["credential_definition"] = len(b.CredDefs)
	}
	writeJSON(w, http.StatusOK, counts)
}

// readBulk accepts either a JSON body or a multipart form with one CSV file per table.
func readBulk(r *http.Request) (allowlist.Bulk, error) {
	var b allowlist.Bulk

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBody)).Decode(&b); err != nil {
			return b, errors.Wrapf(dto.ErrInvalidArgument, "decode allow lists: %v", err)
		}
		return b, nil
	}

	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		return b, errors.Wrapf(dto.ErrInvalidArgument, "parse upload: %v", err)
	}
	for _, table := range []string{"publish_did", "schema", "credential_definition"} {
		f, _, err := r.FormFile(table)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return b, errors.Wrapf(dto.ErrInvalidArgument, "read %s upload: %v", table, err)
		}
		err = allowlist.ReadCSV(table, f, &b)
		f.Close()
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := page(q)
	if err != nil {
		writeError(w, err)
		return
	}
	items, total, err := s.svc.Connections.List(dto.ConnectionState(q.Get("state")), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		list
		Items []*dto.Connection `json:"connections"`
	}{newList(p, len(items), total), items})
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.svc.Connections.Get(chi.URLParam(r, "connection_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, err := versionParam(q)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.svc.Connections.UpdateInfo(chi.URLParam(r, "connection_id"), q.Get("alias"), optional(q, "public_did"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) configureConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, err := versionParam(q)
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		author  *dto.AuthorStatus
		endorse *dto.EndorseStatus
	)
	if v := optional(q, "author_status"); v != nil {
		a := dto.AuthorStatus(*v)
		author = &a
	}
	if v := optional(q, "endorse_status"); v != nil {
		e := dto.EndorseStatus(*v)
		endorse = &e
	}

	conn, err := s.svc.Connections.UpdateConfig(chi.URLParam(r, "connection_id"), author, endorse, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) acceptConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.svc.Connections.Accept(r.Context(), chi.URLParam(r, "connection_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) rejectConnection(w http.ResponseWriter, r *http.Request) {
	writeError(w, errors.Wrap(dto.ErrNotImplemented, "rejecting a connection"))
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := page(q)
	if err != nil {
		writeError(w, err)
		return
	}
	items, total, err := s.svc.Transactions.List(dto.TransactionState(q.Get("transaction_state")), q.Get("connection_id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		list
		Items []*dto.Transaction `json:"transactions"`
	}{newList(p, len(items), total), items})
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.svc.Transactions.Fetch(chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) endorseTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.svc.Engine.Endorse(r.Context(), chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) rejectTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.svc.Engine.Reject(r.Context(), chi.URLParam(r, "transaction_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// listSettings merges the effective settings with the agent's own configuration.
// An unreachable agent leaves its parts empty.
func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Settings.All()
	if err != nil {
		writeError(w, err)
		return
	}

	endorserConfig := make(map[string]any, len(settings)+1)
	for _, setting := range settings {
		endorserConfig[setting.Name] = setting
	}

	var publicDID any
	if did, err := s.svc.Agent.PublicDID(r.Context()); err == nil {
		publicDID = did
	} else {
		log.Warnf("failed to read endorser public DID: %v", err)
	}
	endorserConfig["public_did"] = publicDID

	var agentConfig any
	if cfg, err := s.svc.Agent.StatusConfig(r.Context()); err == nil {
		agentConfig = cfg
	} else {
		log.Warnf("failed to read agent config: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"acapy_config":    agentConfig,
		"endorser_config": endorserConfig,
	})
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := s.svc.Settings.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) setSetting(w http.ResponseWriter, r *http.Request) {
	value := optional(r.URL.Query(), "config_value")
	if value == nil {
		writeError(w, errors.Wrap(dto.ErrInvalidArgument, "config_value is required"))
		return
	}
	setting, err := s.svc.Settings.Set(chi.URLParam(r, "name"), *value)
	if err != nil {
		writeError(w, err)
		return
	}
	s.reconcile(r.Context())
	writeJSON(w, http.StatusOK, setting)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Transactions.Summary(chi.URLParam(r, "connection_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// journalEntry returns one journaled webhook notification.
func (s *Server) journalEntry(w http.ResponseWriter, r *http.Request) {
	if s.svc.Journal == nil {
		writeError(w, errors.Wrap(dto.ErrNotFound, "webhook journal is disabled"))
		return
	}
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, errors.Wrap(dto.ErrInvalidArgument, "index must be a non-negative integer"))
		return
	}
	e, err := s.svc.Journal.Get(idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Index uint64 `json:"index"`
		Topic string `json:"topic"`
		State string `json:"state"`
		*journal.Entry
	}{e.Index, e.Topic, e.State, e})
}
