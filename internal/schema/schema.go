// Package schema classifies untrusted model replies into a closed set of
// response variants.
//
// Every reply is checked against the full shape of the variant its "type"
// selects: required fields, primitive kinds, closed enums and no extra keys.
// Nothing is coerced. The package knows nothing about game rules.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Family selects the set of variants a reply may take.
type Family string

const (
	FamilyPlayerQA Family = "playerQA"
	FamilyAITurn   Family = "aiTurn"
	FamilySecret   Family = "secret"
)

// Kind is the "type" discriminator of a classified reply.
type Kind string

const (
	KindAnswer      Kind = "answer"
	KindGuessResult Kind = "guessResult"
	KindQuestion    Kind = "question"
	KindGuess       Kind = "guess"
)

const (
	AnswerYes     = "Yes"
	AnswerNo      = "No"
	AnswerUnsure  = "I don't know"
	MinConfidence = 1
	MaxConfidence = 10
)

// ErrShape matches every *ValidationError.
var ErrShape = errors.New("reply does not match any known shape")

// ValidationError describes the first shape check a reply failed.
type ValidationError struct {
	Family Family
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s reply: %s", e.Family, e.Reason)
	}
	return fmt.Sprintf("%s reply: %s: %s", e.Family, e.Field, e.Reason)
}

// Is allows errors.Is(err, ErrShape) checks.
func (e *ValidationError) Is(target error) bool {
	return target == ErrShape
}

// Classified is a reply that passed validation. The concrete type is one of
// Answer, GuessResult, Question or Guess.
type Classified interface {
	Kind() Kind
	classified()
}

// YesNoClarification is the oracle's verdict on a yes/no question.
type YesNoClarification struct {
	Answer        string `json:"answer"`
	Clarification string `json:"clarification,omitempty"`
}

type Answer struct {
	QuestionCount int `json:"questionCount"`
	YesNoClarification
}

type GuessResult struct {
	QuestionCount int    `json:"questionCount"`
	Correct       bool   `json:"correct"`
	Response      string `json:"response"`
	Confidence    int    `json:"confidence"`
}

type Question struct {
	Content string `json:"content"`
}

type Guess struct {
	Content string `json:"content"`
}

func (Answer) Kind() Kind      { return KindAnswer }
func (GuessResult) Kind() Kind { return KindGuessResult }
func (Question) Kind() Kind    { return KindQuestion }
func (Guess) Kind() Kind       { return KindGuess }

func (Answer) classified()      {}
func (GuessResult) classified() {}
func (Question) classified()    {}
func (Guess) classified()       {}

// Wire shapes. Pointers distinguish a missing field from a zero value.

type answerWire struct {
	Type          string  `json:"type"`
	QuestionCount *int    `json:"questionCount" validate:"required,gte=0"`
	Answer        *string `json:"answer" validate:"required,yesno"`
	Clarification *string `json:"clarification,omitempty"`
}

type guessResultWire struct {
	Type          string  `json:"type"`
	QuestionCount *int    `json:"questionCount" validate:"required,gte=0"`
	Correct       *bool   `json:"correct" validate:"required"`
	Response      *string `json:"response" validate:"required,notblank"`
	Confidence    *int    `json:"confidence" validate:"required,min=1,max=10"`
}

type contentWire struct {
	Type    string  `json:"type"`
	Content *string `json:"content" validate:"required,notblank"`
}

type secretWire struct {
	Title *string `json:"title" validate:"required,notblank"`
}

var variants = map[Family]map[Kind]func() any{
	FamilyPlayerQA: {
		KindAnswer:      func() any { return &answerWire{} },
		KindGuessResult: func() any { return &guessResultWire{} },
	},
	FamilyAITurn: {
		KindQuestion: func() any { return &contentWire{} },
		KindGuess:    func() any { return &contentWire{} },
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("yesno", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case AnswerYes, AnswerNo, AnswerUnsure:
			return true
		}
		return false
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate classifies raw into one variant of family. For FamilyPlayerQA the
// reply's questionCount must equal questionCount; other families ignore it.
func Validate(raw []byte, family Family, questionCount int) (Classified, error) {
	kinds, ok := variants[family]
	if !ok {
		return nil, &ValidationError{Family: family, Reason: "unknown response family"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, decodeError(family, err)
	}
	typeRaw, ok := fields["type"]
	if !ok || string(typeRaw) == "null" {
		return nil, &ValidationError{Family: family, Field: "type", Reason: "missing"}
	}
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return nil, &ValidationError{Family: family, Field: "type", Reason: "must be a string"}
	}
	kind := Kind(typ)
	newWire, ok := kinds[kind]
	if !ok {
		return nil, &ValidationError{
			Family: family,
			Field:  "type",
			Reason: fmt.Sprintf("%q is not one of %s", kind, knownKinds(kinds)),
		}
	}

	wire := newWire()
	if err := decodeStrict(raw, wire); err != nil {
		return nil, decodeError(family, err)
	}
	if err := checkKeys(family, raw, wire); err != nil {
		return nil, err
	}
	if err := validate.Struct(wire); err != nil {
		return nil, fieldError(family, err)
	}

	switch w := wire.(type) {
	case *answerWire:
		if *w.QuestionCount != questionCount {
			return nil, countMismatch(family, *w.QuestionCount, questionCount)
		}
		a := Answer{QuestionCount: *w.QuestionCount}
		a.Answer = *w.Answer
		if w.Clarification != nil {
			a.Clarification = *w.Clarification
		}
		return a, nil
	case *guessResultWire:
		if *w.QuestionCount != questionCount {
			return nil, countMismatch(family, *w.QuestionCount, questionCount)
		}
		return GuessResult{
			QuestionCount: *w.QuestionCount,
			Correct:       *w.Correct,
			Response:      *w.Response,
			Confidence:    *w.Confidence,
		}, nil
	case *contentWire:
		if kind == KindGuess {
			return Guess{Content: strings.TrimSpace(*w.Content)}, nil
		}
		return Question{Content: strings.TrimSpace(*w.Content)}, nil
	}
	return nil, &ValidationError{Family: family, Reason: "unhandled variant"}
}

// ValidateValue marshals v and validates the result.
func ValidateValue(v any, family Family, questionCount int) (Classified, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Family: family, Reason: "value is not JSON encodable"}
	}
	return Validate(raw, family, questionCount)
}

// ValidateSecret checks a secret-pick reply of the form {"title": "..."} and
// returns the trimmed title.
func ValidateSecret(raw []byte) (string, error) {
	var w secretWire
	if err := decodeStrict(raw, &w); err != nil {
		return "", decodeError(FamilySecret, err)
	}
	if err := checkKeys(FamilySecret, raw, &w); err != nil {
		return "", err
	}
	if err := validate.Struct(&w); err != nil {
		return "", fieldError(FamilySecret, err)
	}
	return strings.TrimSpace(*w.Title), nil
}

// Parse extracts the JSON object from raw model text and validates it.
func Parse(text string, family Family, questionCount int) (Classified, error) {
	raw, err := ExtractJSON(family, text)
	if err != nil {
		return nil, err
	}
	return Validate(raw, family, questionCount)
}

// ParseSecret is Parse for secret-pick replies.
func ParseSecret(text string) (string, error) {
	raw, err := ExtractJSON(FamilySecret, text)
	if err != nil {
		return "", err
	}
	return ValidateSecret(raw)
}

// ExtractJSON returns the outermost JSON object in text, dropping code fences
// or prose a model may wrap around it. It does not check the object's shape.
func ExtractJSON(family Family, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, &ValidationError{Family: family, Reason: "no JSON object in reply"}
	}
	return []byte(text[start : end+1]), nil
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

// checkKeys rejects top-level keys that are not spelled exactly like one of
// wire's json names, and keys that appear twice. encoding/json matches names
// case-insensitively, so decodeStrict alone lets "Content" fill content.
func checkKeys(family Family, raw []byte, wire any) error {
	allowed := jsonNames(wire)
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return decodeError(family, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &ValidationError{Family: family, Reason: "expected an object"}
	}
	seen := make(map[string]bool, len(allowed))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return decodeError(family, err)
		}
		key, _ := tok.(string)
		if !allowed[key] {
			return &ValidationError{Family: family, Field: key, Reason: "unexpected field"}
		}
		if seen[key] {
			return &ValidationError{Family: family, Field: key, Reason: "duplicate field"}
		}
		seen[key] = true
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return decodeError(family, err)
		}
	}
	return nil
}

func jsonNames(wire any) map[string]bool {
	t := reflect.TypeOf(wire)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}

func decodeError(family Family, err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			return &ValidationError{Family: family, Reason: fmt.Sprintf("expected an object, got %s", typeErr.Value)}
		}
		return &ValidationError{Family: family, Field: field, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	case errors.As(err, &syntaxErr):
		return &ValidationError{Family: family, Reason: "malformed JSON: " + syntaxErr.Error()}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &ValidationError{Family: family, Field: field, Reason: "unexpected field"}
	}
	return &ValidationError{Family: family, Reason: err.Error()}
}

func fieldError(family Family, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Family: family, Reason: err.Error()}
	}
	fe := fieldErrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "missing"
	case "yesno":
		reason = fmt.Sprintf("must be one of %q, %q, %q", AnswerYes, AnswerNo, AnswerUnsure)
	case "notblank":
		reason = "must not be blank"
	case "min", "max":
		reason = fmt.Sprintf("must be between %d and %d", MinConfidence, MaxConfidence)
	case "gte":
		reason = "must not be negative"
	default:
		reason = "failed " + fe.Tag()
	}
	return &ValidationError{Family: family, Field: fe.Field(), Reason: reason}
}

func countMismatch(family Family, got, want int) error {
	return &ValidationError{
		Family: family,
		Field:  "questionCount",
		Reason: fmt.Sprintf("got %d, want %d", got, want),
	}
}

func knownKinds(kinds map[Kind]func() any) string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, fmt.Sprintf("%q", k))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
