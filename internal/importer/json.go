package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cleared-dev/ledger/internal/voucher"
)

// JSONParser reads one submission or an array of them. Each line may carry
// "account_code" instead of "account_id".
type JSONParser struct{}

type jsonDocument struct {
	voucher.Submission
	Lines []jsonLine `json:"lines"`
}

type jsonLine struct {
	voucher.LineInput
	AccountCode string `json:"account_code,omitempty"`
}

func (p *JSONParser) Format() string { return "json" }

func (p *JSONParser) Parse(name string, r io.Reader) ([]Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading JSON: %w", err)
	}
	data = bytes.TrimSpace(data)

	var raw []jsonDocument
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	} else {
		var one jsonDocument
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, err
		}
		raw = []jsonDocument{one}
	}

	docs := make([]Document, 0, len(raw))
	for i, jd := range raw {
		doc := Document{Source: name, Submission: jd.Submission}
		if len(raw) > 1 {
			doc.Source = fmt.Sprintf("%s#%d", name, i+1)
		}
		doc.Submission.Lines = make([]voucher.LineInput, 0, len(jd.Lines))
		doc.AccountCodes = make([]string, 0, len(jd.Lines))
		for _, l := range jd.Lines {
			doc.Submission.Lines = append(doc.Submission.Lines, l.LineInput)
			doc.AccountCodes = append(doc.AccountCodes, l.AccountCode)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
