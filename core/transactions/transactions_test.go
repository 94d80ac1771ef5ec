package transactions

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/ledger"
	"github.com/vadiminshakov/endorser/io/store"
)

func newTestRecords(t *testing.T) *Records {
	s, err := store.New(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestTransition(t *testing.T) {
	require.NoError(t, Transition("", dto.TxnRequestRecv))
	require.NoError(t, Transition(dto.TxnRequestRecv, dto.TxnRequestRecv))
	require.NoError(t, Transition(dto.TxnRequestRecv, dto.TxnEndorsed))
	require.NoError(t, Transition(dto.TxnEndorsed, dto.TxnAcked))
	require.NoError(t, Transition(dto.TxnCreated, dto.TxnCancelled))

	err := Transition(dto.TxnEndorsed, dto.TxnRequestRecv)
	assert.True(t, errors.Is(err, dto.ErrInvalidTransition))

	// terminal states
	assert.Error(t, Transition(dto.TxnAcked, dto.TxnCancelled))
	assert.Error(t, Transition(dto.TxnCancelled, dto.TxnRequestRecv))
}

func TestStore_Duplicate(t *testing.T) {
	r := newTestRecords(t)

	first, err := r.Store(&dto.Transaction{TransactionID: "tx1", State: dto.TxnRequestRecv})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, uint64(1), first.Version)

	_, err = r.Store(&dto.Transaction{TransactionID: "tx1", State: dto.TxnRequestRecv})
	assert.True(t, errors.Is(err, dto.ErrConflict))

	_, err = r.Fetch("missing")
	assert.True(t, errors.Is(err, dto.ErrNotFound))
}

func TestUpdateState(t *testing.T) {
	r := newTestRecords(t)

	// upsert creates
	rec, err := r.UpdateState(&dto.Transaction{TransactionID: "tx1", ConnectionID: "c1", State: dto.TxnRequestRecv})
	require.NoError(t, err)
	id := rec.ID

	rec, err = r.UpdateState(&dto.Transaction{TransactionID: "tx1", State: dto.TxnEndorsed, LedgerTxn: "signed"})
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, dto.TxnEndorsed, rec.State)
	assert.Equal(t, "signed", rec.LedgerTxn)
	assert.Equal(t, "c1", rec.ConnectionID)
	assert.Equal(t, uint64(2), rec.Version)

	// redelivery changes nothing
	rec, err = r.UpdateState(&dto.Transaction{TransactionID: "tx1", State: dto.TxnEndorsed})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)

	// backwards move is refused and the record kept
	_, err = r.UpdateState(&dto.Transaction{TransactionID: "tx1", State: dto.TxnRequestRecv})
	assert.True(t, errors.Is(err, dto.ErrInvalidTransition))

	rec, err = r.Fetch("tx1")
	require.NoError(t, err)
	assert.Equal(t, dto.TxnEndorsed, rec.State)
}

func TestListAndSummary(t *testing.T) {
	r := newTestRecords(t)

	seed := []dto.Transaction{
		{TransactionID: "t1", ConnectionID: "c1", State: dto.TxnRequestRecv},
		{TransactionID: "t2", ConnectionID: "c1", State: dto.TxnEndorsed},
		{TransactionID: "t3", ConnectionID: "c2", State: dto.TxnRequestRecv},
	}
	for i := range seed {
		_, err := r.Store(&seed[i])
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	all, total, err := r.List("", "", dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 3, total)
	assert.Equal(t, "t3", all[0].TransactionID)
	assert.Equal(t, "t1", all[2].TransactionID)

	got, _, err := r.List(dto.TxnRequestRecv, "c1", dto.DefaultPage)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].TransactionID)

	got, total, err = r.List("", "", dto.Page{Num: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, total)
	assert.Equal(t, "t1", got[0].TransactionID)

	pending, err := r.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	counts, err := r.Summary("c1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[dto.TxnRequestRecv])
	assert.Equal(t, 1, counts[dto.TxnEndorsed])
	assert.Equal(t, 0, counts[dto.TxnAcked])
}

func TestFromWebhook(t *testing.T) {
	request := `{"identifier":"author","operation":{"type":"101","data":{"name":"degree","version":"1.0"}}}`
	quoted, err := json.Marshal(request)
	require.NoError(t, err)

	payload := `{
		"transaction_id": "tx1",
		"connection_id": "c1",
		"state": "request_received",
		"signature_request": [{"author_goal_code": "aries.transaction.ledger.write"}],
		"messages_attach": [{"data": {"json": ` + string(quoted) + `}}]
	}`

	txn, err := FromWebhook(json.RawMessage(payload), "endorser-did")
	require.NoError(t, err)
	assert.Equal(t, "tx1", txn.TransactionID)
	assert.Equal(t, "c1", txn.ConnectionID)
	assert.Equal(t, "endorser-did", txn.EndorserDID)
	assert.Equal(t, "author", txn.AuthorDID)
	assert.Equal(t, ledger.TypeSchema, txn.TransactionType)
	assert.Equal(t, dto.TxnRequestRecv, txn.State)
	assert.Equal(t, "aries.transaction.ledger.write", txn.AuthorGoalCode)
	assert.JSONEq(t, request, string(txn.Request))
}

func TestFromWebhook_FirstPublicDID(t *testing.T) {
	payload := `{
		"transaction_id": "tx1",
		"state": "request_received",
		"signature_request": [{"author_goal_code": "aries.transaction.register_public_did"}],
		"messages_attach": [{"data": {"json": {"did": "5pDa", "verkey": "vk"}}}]
	}`

	txn, err := FromWebhook(json.RawMessage(payload), "")
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeNym, txn.TransactionType)
	assert.Equal(t, "5pDa", txn.AuthorDID)

	_, err = FromWebhook(json.RawMessage(`{"state":"request_received"}`), "")
	assert.True(t, errors.Is(err, dto.ErrInvalidArgument))
}
