// Package ledger knows the shape of the ledger-write requests authors send for
// endorsement: transaction type codes, where the interesting fields live in each
// operation, and how on-ledger identifiers are composed.
package ledger

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Transaction type codes as they appear in operation.type.
const (
	TypeNym           = "1"
	TypeAttrib        = "100"
	TypeSchema        = "101"
	TypeCredDef       = "102"
	TypeRevRegDef     = "113"
	TypeRevRegEntry   = "114"
	RegisterPublicDID = "aries.transaction.register_public_did"
)

// TypeCodes lists every recognized transaction type code.
var TypeCodes = []string{TypeNym, TypeAttrib, TypeSchema, TypeCredDef, TypeRevRegDef, TypeRevRegEntry}

// IsTypeCode reports whether code is a recognized transaction type.
func IsTypeCode(code string) bool {
	for _, c := range TypeCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Request is the transaction the author attached to the endorsement request.
// Only the fields the endorser inspects are decoded.
type Request struct {
	Identifier string    `json:"identifier"`
	Operation  Operation `json:"operation"`

	// set instead of Operation when the author registers its first public DID
	DID    string `json:"did"`
	Verkey string `json:"verkey"`
	Alias  string `json:"alias"`
}

// Operation is the ledger operation block.
type Operation struct {
	Type          string          `json:"type"`
	Dest          string          `json:"dest"`
	Ref           json.RawMessage `json:"ref"`
	Tag           string          `json:"tag"`
	Data          json.RawMessage `json:"data"`
	CredDefID     string          `json:"credDefId"`
	RevocRegDefID string          `json:"revocRegDefId"`
}

// SchemaData is operation.data of a schema write.
type SchemaData struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attr_names"`
}

// ParseRequest decodes a request attachment, which agents send either as a JSON
// object or as a string holding JSON.
func ParseRequest(raw json.RawMessage) (*Request, error) {
	body, err := Unquote(raw)
	if err != nil {
		return nil, err
	}

	req := &Request{}
	if len(body) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, errors.Wrap(err, "decode transaction request")
	}
	return req, nil
}

// Unquote returns the JSON document inside raw, decoding one level of string
// encoding if present.
func Unquote(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return json.RawMessage(trimmed), nil
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
		return nil, errors.Wrap(err, "decode transaction request string")
	}
	return json.RawMessage(s), nil
}

// Schema returns the schema block of a schema write.
func (o Operation) Schema() (*SchemaData, error) {
	data := &SchemaData{}
	if len(o.Data) == 0 {
		return nil, errors.New("schema operation has no data")
	}
	if err := json.Unmarshal(o.Data, data); err != nil {
		return nil, errors.Wrap(err, "decode schema data")
	}
	return data, nil
}

// SchemaRef returns operation.ref, the sequence number of the schema a credential
// definition is built on. The ledger uses a number, some agents a string.
func (o Operation) SchemaRef() (string, error) {
	ref := strings.TrimSpace(string(o.Ref))
	if ref == "" || ref == "null" {
		return "", errors.New("operation has no schema ref")
	}

	if ref[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(ref), &s); err != nil {
			return "", errors.Wrap(err, "decode schema ref")
		}
		ref = s
	}
	if _, err := strconv.ParseUint(ref, 10, 64); err != nil {
		return "", errors.Errorf("schema ref %q is not a sequence number", ref)
	}
	return ref, nil
}

// TypeOf returns the transaction type of a request. A first public DID
// registration carries no operation and is reported as a DID write.
func TypeOf(req *Request, goalCode string) string {
	if goalCode == RegisterPublicDID {
		return TypeNym
	}
	return req.Operation.Type
}

// AuthorDID returns the DID the request was authored by, if any.
func AuthorDID(req *Request, goalCode string) string {
	if req.Identifier != "" {
		return req.Identifier
	}
	if goalCode == RegisterPublicDID {
		return req.DID
	}
	return ""
}

// TargetDID returns the DID a DID write would publish.
func TargetDID(req *Request, goalCode string) string {
	if goalCode == RegisterPublicDID {
		return req.DID
	}
	return req.Operation.Dest
}

// CredDefRef is the credential definition a revocation artifact belongs to.
type CredDefRef struct {
	AuthorDID   string
	SchemaSeqNo string
	Tag         string
}

// ParseCredDefID splits "<did>:3:CL:<seq_no>:<tag>".
func ParseCredDefID(id string) (*CredDefRef, error) {
	parts := strings.Split(id, ":")
	if len(parts) < 5 || parts[1] != "3" || parts[2] != "CL" {
		return nil, errors.Errorf("malformed credential definition id %q", id)
	}

	return &CredDefRef{
		AuthorDID:   parts[0],
		SchemaSeqNo: parts[3],
		Tag:         strings.Join(parts[4:], ":"),
	}, nil
}

// ParseRevRegDefID splits "<did>:4:<did>:3:CL:<seq_no>:<tag>:CL_ACCUM:<registry tag>".
func ParseRevRegDefID(id string) (*CredDefRef, error) {
	parts := strings.Split(id, ":")
	if len(parts) < 9 || parts[1] != "4" || parts[3] != "3" || parts[4] != "CL" {
		return nil, errors.Errorf("malformed revocation registry id %q", id)
	}

	return &CredDefRef{
		AuthorDID:   parts[0],
		SchemaSeqNo: parts[5],
		Tag:         parts[6],
	}, nil
}

// IssuerOf returns the DID that published a schema, the first segment of
// "<did>:2:<name>:<version>".
func IssuerOf(schemaID string) (string, error) {
	parts := strings.Split(schemaID, ":")
	if len(parts) < 4 || parts[1] != "2" {
		return "", errors.Errorf("malformed schema id %q", schemaID)
	}
	return parts[0], nil
}
