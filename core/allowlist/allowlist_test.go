package allowlist

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/io/store"
)

func newTestLists(t *testing.T) *Lists {
	s, err := store.New(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("*", "anything"))
	assert.True(t, Match("did:1", "did:1"))
	assert.False(t, Match("did:1", "did:2"))
	assert.False(t, Match("did:1", "*"))
}

func TestSchemaWildcardMatch(t *testing.T) {
	l := newTestLists(t)

	_, err := l.AddSchema(dto.AllowedSchema{AuthorDID: "*", SchemaName: "schema_x", Version: "1.0"})
	require.NoError(t, err)

	ok, err := l.MatchSchema("did:123", "schema_x", "1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.MatchSchema("did:123", "schema_y", "1.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublicDIDDuplicate(t *testing.T) {
	l := newTestLists(t)

	_, err := l.AddPublicDID("did:1", "first")
	require.NoError(t, err)
	_, err = l.AddPublicDID("did:1", "second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dto.ErrConflict))

	all, _, err := l.ListPublicDIDs("", dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "first", all[0].Details)
}

func TestPublicDIDMatchAndDelete(t *testing.T) {
	l := newTestLists(t)

	ok, err := l.MatchPublicDID("did:1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.AddPublicDID("*", "")
	require.NoError(t, err)
	ok, err = l.MatchPublicDID("did:1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.DeletePublicDID("*"))
	assert.True(t, errors.Is(l.DeletePublicDID("*"), dto.ErrNotFound))

	ok, err = l.MatchPublicDID("did:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredDefDuplicateIgnoresFlags(t *testing.T) {
	l := newTestLists(t)
	entry := dto.AllowedCredentialDefinition{
		IssuerDID: "issuer", AuthorDID: "author", SchemaName: "degree", Version: "1.0", Tag: "default",
	}

	_, err := l.AddCredDef(entry)
	require.NoError(t, err)

	entry.RevRegDef = true
	_, err = l.AddCredDef(entry)
	assert.True(t, errors.Is(err, dto.ErrConflict))
}

func TestCredDefRevocationFlags(t *testing.T) {
	l := newTestLists(t)
	_, err := l.AddCredDef(dto.AllowedCredentialDefinition{
		IssuerDID: "*", AuthorDID: "author", SchemaName: "degree", Version: "*", Tag: "default",
		RevRegDef: true,
	})
	require.NoError(t, err)

	q := dto.AllowedCredentialDefinition{
		IssuerDID: "issuer", AuthorDID: "author", SchemaName: "degree", Version: "2.0", Tag: "default",
	}

	ok, err := l.MatchCredDef(q, NoRevocation)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.MatchCredDef(q, RevRegDef)
	require.NoError(t, err)
	assert.True(t, ok)

	// entry does not allow revocation entries
	ok, err = l.MatchCredDef(q, RevRegEntry)
	require.NoError(t, err)
	assert.False(t, ok)

	q.Tag = "other"
	ok, err = l.MatchCredDef(q, NoRevocation)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListFiltersAndPaging(t *testing.T) {
	l := newTestLists(t)
	for _, v := range []string{"1.0", "2.0", "3.0"} {
		_, err := l.AddSchema(dto.AllowedSchema{AuthorDID: "author", SchemaName: "degree", Version: v})
		require.NoError(t, err)
	}
	_, err := l.AddSchema(dto.AllowedSchema{AuthorDID: "other", SchemaName: "degree", Version: "1.0"})
	require.NoError(t, err)

	got, _, err := l.ListSchemas(SchemaFilter{AuthorDID: "author"}, dto.DefaultPage)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, _, err = l.ListSchemas(SchemaFilter{AuthorDID: "author"}, dto.Page{Num: 2, Size: 2})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, _, err = l.ListSchemas(SchemaFilter{ID: SchemaID("other", "degree", "1.0")}, dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "other", got[0].AuthorDID)

	got, _, err = l.ListSchemas(SchemaFilter{}, dto.Page{Num: 5, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddRequiresFields(t *testing.T) {
	l := newTestLists(t)

	_, err := l.AddSchema(dto.AllowedSchema{AuthorDID: "author", SchemaName: "degree"})
	assert.True(t, errors.Is(err, dto.ErrInvalidArgument))

	_, err = l.AddPublicDID("", "")
	assert.True(t, errors.Is(err, dto.ErrInvalidArgument))
}

func TestBulkReplaceAndAppend(t *testing.T) {
	l := newTestLists(t)

	_, err := l.AddPublicDID("did:old", "")
	require.NoError(t, err)
	_, err = l.AddSchema(dto.AllowedSchema{AuthorDID: "author", SchemaName: "kept", Version: "1.0"})
	require.NoError(t, err)

	var b Bulk
	require.NoError(t, json.Unmarshal([]byte(`{
		"publish_did": [{"registered_did": "did:new"}],
		"credential_definition": [{"issuer_did": "*", "author_did": "*", "schema_name": "degree",
			"version": "1.0", "tag": "default", "rev_reg_def": "true", "rev_reg_entry": false}]
	}`), &b))
	require.Nil(t, b.Schemas)

	require.NoError(t, l.Replace(b))

	dids, _, err := l.ListPublicDIDs("", dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, dids, 1)
	assert.Equal(t, "did:new", dids[0].RegisteredDID)

	// schema table was not part of the upload
	schemas, _, err := l.ListSchemas(SchemaFilter{}, dto.DefaultPage)
	require.NoError(t, err)
	assert.Len(t, schemas, 1)

	creds, _, err := l.ListCredDefs(CredDefFilter{}, dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.True(t, creds[0].RevRegDef)
	assert.False(t, creds[0].RevRegEntry)

	// appending an existing entry keeps it once
	require.NoError(t, l.Append(Bulk{PublicDIDs: []dto.AllowedPublicDID{
		{RegisteredDID: "did:new"}, {RegisteredDID: "did:more"},
	}}))
	dids, _, err = l.ListPublicDIDs("", dto.DefaultPage)
	require.NoError(t, err)
	assert.Len(t, dids, 2)
}

func TestBulkReplaceIsAtomic(t *testing.T) {
	l := newTestLists(t)
	_, err := l.AddPublicDID("did:old", "")
	require.NoError(t, err)

	err = l.Replace(Bulk{PublicDIDs: []dto.AllowedPublicDID{{RegisteredDID: "did:new"}, {RegisteredDID: ""}}})
	require.Error(t, err)

	dids, _, err := l.ListPublicDIDs("", dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, dids, 1)
	assert.Equal(t, "did:old", dids[0].RegisteredDID)
}
