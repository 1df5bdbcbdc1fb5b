package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"spotpilot/internal/pkg/jsonutil"
	"spotpilot/internal/pkg/symbol"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrInvalidProposal wraps every parse or schema failure.
var ErrInvalidProposal = errors.New("invalid proposal")

const proposalSchemaJSON = `{
  "type": "object",
  "required": ["signal", "confidence"],
  "properties": {
    "symbol": {"type": ["string", "null"]},
    "signal": {"type": "string", "minLength": 1},
    "confidence": {"type": "string", "minLength": 1},
    "amount": {"type": ["number", "string", "null"]},
    "amountUnit": {"type": ["string", "null"]},
    "entryType": {"type": ["string", "null"]},
    "entryPrice": {"type": ["number", "string", "null"]},
    "stopLoss": {"type": ["number", "string", "null"]},
    "takeProfit1": {"type": ["number", "string", "null"]},
    "takeProfit2": {"type": ["number", "string", "null"]},
    "expectedRiskReward": {"type": ["number", "string", "null"]},
    "timeHorizonMinutes": {"type": ["integer", "null"], "minimum": 0},
    "reasoning": {"type": ["string", "null"]},
    "memory": {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func proposalSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("proposal.json", strings.NewReader(proposalSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("proposal.json")
	})
	return schemaCompiled, schemaErr
}

// ParseProposal validates raw JSON against the proposal schema and decodes it.
// defaultSymbol fills a missing symbol; now stamps GeneratedAt.
func ParseProposal(raw []byte, defaultSymbol string, now time.Time) (Proposal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Proposal{}, fmt.Errorf("%w: empty body", ErrInvalidProposal)
	}
	if !gjson.ValidBytes(raw) {
		// 上游模型输出可能夹带说明文字或 markdown 代码块
		obj, ok := jsonutil.ExtractObject(string(raw))
		if !ok || !gjson.Valid(obj) {
			return Proposal{}, fmt.Errorf("%w: malformed json", ErrInvalidProposal)
		}
		raw = []byte(obj)
	}
	if err := validateSchema(raw); err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	doc := gjson.ParseBytes(raw)

	var (
		p   Proposal
		err error
	)
	if p.Signal, err = ParseSignal(doc.Get("signal").String()); err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if p.Confidence, err = ParseConfidence(doc.Get("confidence").String()); err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if p.AmountUnit, err = ParseAmountUnit(doc.Get("amountUnit").String()); err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if p.EntryType, err = ParseEntryType(doc.Get("entryType").String()); err != nil {
		return Proposal{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	fields := []struct {
		path string
		dst  *decimal.NullDecimal
	}{
		{"amount", &p.Amount},
		{"entryPrice", &p.EntryPrice},
		{"stopLoss", &p.StopLoss},
		{"takeProfit1", &p.TakeProfit1},
		{"takeProfit2", &p.TakeProfit2},
		{"expectedRiskReward", &p.ExpectedRiskReward},
	}
	for _, f := range fields {
		if *f.dst, err = nullDecimal(doc.Get(f.path)); err != nil {
			return Proposal{}, fmt.Errorf("%w: %s: %v", ErrInvalidProposal, f.path, err)
		}
	}
	if h := doc.Get("timeHorizonMinutes"); h.Exists() && h.Type == gjson.Number {
		minutes := int(h.Int())
		p.TimeHorizonMinutes = &minutes
	}
	p.Symbol = symbol.Normalize(doc.Get("symbol").String())
	if p.Symbol == "" {
		p.Symbol = symbol.Normalize(defaultSymbol)
	}
	p.Reasoning = strings.TrimSpace(doc.Get("reasoning").String())
	doc.Get("memory").ForEach(func(_, item gjson.Result) bool {
		if text := strings.TrimSpace(item.String()); text != "" {
			p.Memory = append(p.Memory, text)
		}
		return len(p.Memory) < MaxMemoryItems
	})
	p.GeneratedAt = now.UTC()
	return p, nil
}

func validateSchema(raw []byte) error {
	schema, err := proposalSchema()
	if err != nil {
		return fmt.Errorf("compile proposal schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func nullDecimal(v gjson.Result) (decimal.NullDecimal, error) {
	switch v.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(v.Raw)
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(d), nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		return decimal.NewNullDecimal(d), nil
	default:
		return decimal.NullDecimal{}, nil
	}
}
