// Package allowlist keeps the pre-approved public DIDs, schemas and credential
// definitions that let transactions be endorsed without looking at connection policy.
//
// Every field of an entry may hold the wildcard "*", which matches any value of that
// field. Entries are identified by their full field tuple, so adding the same tuple
// twice fails with dto.ErrConflict.
package allowlist

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/io/store"
)

// Match reports whether an entry field accepts value.
func Match(field, value string) bool {
	return field == dto.Wildcard || field == value
}

// SchemaID is the key of a schema entry.
func SchemaID(authorDID, name, version string) string {
	return tupleID(authorDID, name, version)
}

// CredDefID is the key of a credential definition entry. Revocation flags are not
// part of the key.
func CredDefID(issuerDID, authorDID, name, version, tag string) string {
	return tupleID(issuerDID, authorDID, name, version, tag)
}

func tupleID(fields ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(fields, "\x1f"))).String()
}

// SchemaFilter narrows a schema listing; empty fields are ignored.
type SchemaFilter struct {
	ID         string
	AuthorDID  string
	SchemaName string
	Version    string
}

// CredDefFilter narrows a credential definition listing; empty fields are ignored.
type CredDefFilter struct {
	ID         string
	IssuerDID  string
	AuthorDID  string
	SchemaName string
	Version    string
	Tag        string
}

// Revocation selects which revocation permission a credential definition match requires.
type Revocation int

const (
	NoRevocation Revocation = iota
	RevRegDef
	RevRegEntry
)

// Bulk holds the three tables of a bulk upload. A nil slice leaves its table alone.
type Bulk struct {
	PublicDIDs []dto.AllowedPublicDID            `json:"publish_did"`
	Schemas    []dto.AllowedSchema               `json:"schema"`
	CredDefs   []dto.AllowedCredentialDefinition `json:"credential_definition"`
}

// Lists is the allow-list store.
type Lists struct {
	db       *store.Store
	dids     *store.Table[dto.AllowedPublicDID]
	schemas  *store.Table[dto.AllowedSchema]
	credDefs *store.Table[dto.AllowedCredentialDefinition]
}

// New binds the allow-list tables to the store.
func New(s *store.Store) *Lists {
	return &Lists{
		db:       s,
		dids:     store.NewTable[dto.AllowedPublicDID](s, "allow_did"),
		schemas:  store.NewTable[dto.AllowedSchema](s, "allow_schema"),
		credDefs: store.NewTable[dto.AllowedCredentialDefinition](s, "allow_cred_def"),
	}
}

// AddPublicDID allows publishing did.
func (l *Lists) AddPublicDID(did, details string) (*dto.AllowedPublicDID, error) {
	entry, err := preparePublicDID(dto.AllowedPublicDID{RegisteredDID: did, Details: details})
	if err != nil {
		return nil, err
	}
	if err := l.dids.Insert(entry.RegisteredDID, entry); err != nil {
		return nil, errors.Wrap(err, "add public did")
	}

	log.Infof("allowed public did %s", did)
	return entry, nil
}

// ListPublicDIDs returns one page of public DID entries, optionally only did, and
// the number of entries on all pages.
func (l *Lists) ListPublicDIDs(did string, page dto.Page) ([]*dto.AllowedPublicDID, int, error) {
	entries, err := l.dids.List(func(e *dto.AllowedPublicDID) bool {
		return did == "" || e.RegisteredDID == did
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list public dids")
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	return dto.Apply(entries, page), len(entries), nil
}

// DeletePublicDID removes the entry for did.
func (l *Lists) DeletePublicDID(did string) error {
	if err := l.dids.Delete(did); err != nil {
		return errors.Wrap(err, "delete public did")
	}

	log.Infof("removed public did %s from allow list", did)
	return nil
}

// MatchPublicDID reports whether some entry allows publishing did.
func (l *Lists) MatchPublicDID(did string) (bool, error) {
	return matchAny(l.dids, func(e *dto.AllowedPublicDID) bool {
		return Match(e.RegisteredDID, did)
	})
}

// AddSchema allows schema writes matching the entry.
func (l *Lists) AddSchema(entry dto.AllowedSchema) (*dto.AllowedSchema, error) {
	e, err := prepareSchema(entry)
	if err != nil {
		return nil, err
	}
	if err := l.schemas.Insert(e.ID, e); err != nil {
		return nil, errors.Wrap(err, "add schema")
	}

	log.Infof("allowed schema %s:%s by %s", e.SchemaName, e.Version, e.AuthorDID)
	return e, nil
}

// ListSchemas returns one page of schema entries matching f.
func (l *Lists) ListSchemas(f SchemaFilter, page dto.Page) ([]*dto.AllowedSchema, int, error) {
	entries, err := l.schemas.List(func(e *dto.AllowedSchema) bool {
		return filter(f.ID, e.ID) && filter(f.AuthorDID, e.AuthorDID) &&
			filter(f.SchemaName, e.SchemaName) && filter(f.Version, e.Version)
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list schemas")
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	return dto.Apply(entries, page), len(entries), nil
}

// DeleteSchema removes a schema entry by id.
func (l *Lists) DeleteSchema(id string) error {
	if err := l.schemas.Delete(id); err != nil {
		return errors.Wrap(err, "delete schema")
	}

	log.Infof("removed schema %s from allow list", id)
	return nil
}

// MatchSchema reports whether some entry allows the schema write.
func (l *Lists) MatchSchema(authorDID, name, version string) (bool, error) {
	return matchAny(l.schemas, func(e *dto.AllowedSchema) bool {
		return Match(e.AuthorDID, authorDID) && Match(e.SchemaName, name) && Match(e.Version, version)
	})
}

// AddCredDef allows credential definitions matching the entry.
func (l *Lists) AddCredDef(entry dto.AllowedCredentialDefinition) (*dto.AllowedCredentialDefinition, error) {
	e, err := prepareCredDef(entry)
	if err != nil {
		return nil, err
	}
	if err := l.credDefs.Insert(e.ID, e); err != nil {
		return nil, errors.Wrap(err, "add credential definition")
	}

	log.Infof("allowed credential definition %s:%s:%s by %s", e.SchemaName, e.Version, e.Tag, e.AuthorDID)
	return e, nil
}

// ListCredDefs returns one page of credential definition entries matching f.
func (l *Lists) ListCredDefs(f CredDefFilter, page dto.Page) ([]*dto.AllowedCredentialDefinition, int, error) {
	entries, err := l.credDefs.List(func(e *dto.AllowedCredentialDefinition) bool {
		return filter(f.ID, e.ID) && filter(f.IssuerDID, e.IssuerDID) && filter(f.AuthorDID, e.AuthorDID) &&
			filter(f.SchemaName, e.SchemaName) && filter(f.Version, e.Version) && filter(f.Tag, e.Tag)
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list credential definitions")
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	return dto.Apply(entries, page), len(entries), nil
}

// DeleteCredDef removes a credential definition entry by id.
func (l *Lists) DeleteCredDef(id string) error {
	if err := l.credDefs.Delete(id); err != nil {
		return errors.Wrap(err, "delete credential definition")
	}

	log.Infof("removed credential definition %s from allow list", id)
	return nil
}

// MatchCredDef reports whether some entry allows q. The flags of q are ignored;
// rev selects which revocation permission the entry must grant.
func (l *Lists) MatchCredDef(q dto.AllowedCredentialDefinition, rev Revocation) (bool, error) {
	return matchAny(l.credDefs, func(e *dto.AllowedCredentialDefinition) bool {
		switch {
		case rev == RevRegDef && !e.RevRegDef:
			return false
		case rev == RevRegEntry && !e.RevRegEntry:
			return false
		}
		return Match(e.IssuerDID, q.IssuerDID) && Match(e.AuthorDID, q.AuthorDID) &&
			Match(e.SchemaName, q.SchemaName) && Match(e.Version, q.Version) && Match(e.Tag, q.Tag)
	})
}

// Replace swaps the contents of every table present in b, all in one transaction.
func (l *Lists) Replace(b Bulk) error {
	err := l.db.Update(func(tx *store.Tx) error {
		if b.PublicDIDs != nil {
			if err := l.dids.ClearIn(tx); err != nil {
				return err
			}
		}
		if b.Schemas != nil {
			if err := l.schemas.ClearIn(tx); err != nil {
				return err
			}
		}
		if b.CredDefs != nil {
			if err := l.credDefs.ClearIn(tx); err != nil {
				return err
			}
		}
		return l.insertBulk(tx, b)
	})
	if err != nil {
		return errors.Wrap(err, "replace allow lists")
	}

	log.Infof("allow lists replaced: %d dids, %d schemas, %d credential definitions",
		len(b.PublicDIDs), len(b.Schemas), len(b.CredDefs))
	return nil
}

// Append adds every entry of b in one transaction. Entries already present are kept.
func (l *Lists) Append(b Bulk) error {
	err := l.db.Update(func(tx *store.Tx) error {
		return l.insertBulk(tx, b)
	})
	if err != nil {
		return errors.Wrap(err, "append allow lists")
	}

	log.Infof("allow lists appended: %d dids, %d schemas, %d credential definitions",
		len(b.PublicDIDs), len(b.Schemas), len(b.CredDefs))
	return nil
}

func (l *Lists) insertBulk(tx *store.Tx, b Bulk) error {
	for _, in := range b.PublicDIDs {
		e, err := preparePublicDID(in)
		if err != nil {
			return err
		}
		if err := skipDuplicate(l.dids.InsertIn(tx, e.RegisteredDID, e)); err != nil {
			return err
		}
	}
	for _, in := range b.Schemas {
		e, err := prepareSchema(in)
		if err != nil {
			return err
		}
		if err := skipDuplicate(l.schemas.InsertIn(tx, e.ID, e)); err != nil {
			return err
		}
	}
	for _, in := range b.CredDefs {
		e, err := prepareCredDef(in)
		if err != nil {
			return err
		}
		if err := skipDuplicate(l.credDefs.InsertIn(tx, e.ID, e)); err != nil {
			return err
		}
	}
	return nil
}

func skipDuplicate(err error) error {
	if errors.Is(err, dto.ErrConflict) {
		log.Debugf("bulk upload: %v, skipped", err)
		return nil
	}
	return err
}

func preparePublicDID(e dto.AllowedPublicDID) (*dto.AllowedPublicDID, error) {
	if err := required("registered_did", e.RegisteredDID); err != nil {
		return nil, err
	}
	e.CreatedAt, e.UpdatedAt = now(), now()
	return &e, nil
}

func prepareSchema(e dto.AllowedSchema) (*dto.AllowedSchema, error) {
	if err := required("author_did", e.AuthorDID, "schema_name", e.SchemaName, "version", e.Version); err != nil {
		return nil, err
	}
	e.ID = SchemaID(e.AuthorDID, e.SchemaName, e.Version)
	e.CreatedAt, e.UpdatedAt = now(), now()
	return &e, nil
}

func prepareCredDef(e dto.AllowedCredentialDefinition) (*dto.AllowedCredentialDefinition, error) {
	if err := required("issuer_did", e.IssuerDID, "author_did", e.AuthorDID,
		"schema_name", e.SchemaName, "version", e.Version, "tag", e.Tag); err != nil {
		return nil, err
	}
	e.ID = CredDefID(e.IssuerDID, e.AuthorDID, e.SchemaName, e.Version, e.Tag)
	e.CreatedAt, e.UpdatedAt = now(), now()
	return &e, nil
}

// required takes name/value pairs.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return errors.Wrapf(dto.ErrInvalidArgument, "%s is required", pairs[i])
		}
	}
	return nil
}

func filter(want, got string) bool {
	return want == "" || want == got
}

func matchAny[T any](t *store.Table[T], fn func(*T) bool) (bool, error) {
	found := false
	err := t.Scan(func(e *T) bool {
		found = fn(e)
		return !found
	})
	if err != nil {
		return false, errors.Wrap(err, "scan allow list")
	}
	return found, nil
}

func now() time.Time {
	return time.Now().UTC()
}
