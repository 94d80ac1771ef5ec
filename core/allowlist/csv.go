package allowlist

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/endorser/core/dto"
)

// ReadCSV decodes one table of a bulk upload into b. The first row names the
// columns, using the record field names (registered_did, author_did, schema_name,
// ...). table is one of the Bulk field names: publish_did, schema, credential_definition.
func ReadCSV(table string, r io.Reader, b *Bulk) error {
	rows, err := csvRecords(r)
	if err != nil {
		return errors.Wrapf(dto.ErrInvalidArgument, "%s: %v", table, err)
	}

	var target any
	switch table {
	case "publish_did":
		b.PublicDIDs = []dto.AllowedPublicDID{}
		target = &b.PublicDIDs
	case "schema":
		b.Schemas = []dto.AllowedSchema{}
		target = &b.Schemas
	case "credential_definition":
		b.CredDefs = []dto.AllowedCredentialDefinition{}
		target = &b.CredDefs
	default:
		return errors.Wrapf(dto.ErrInvalidArgument, "unknown allow list %q", table)
	}

	// rows go through JSON so that the records' own decoding rules apply
	raw, err := json.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, "encode csv rows")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Wrapf(dto.ErrInvalidArgument, "%s: %v", table, err)
	}
	return nil
}

func csvRecords(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return []map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	rows := []map[string]string{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}

		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) && col != "" {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
}
