package service

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"marketintel/pkg/errors"
)

func TestRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"minimal", Request{Subject: "Acme Robotics"}, false},
		{"full", Request{Subject: "Acme Robotics", Domain: "robotics", Budget: 1.5, Model: "openai/gpt-5-mini"}, false},
		{"missing subject", Request{Domain: "robotics"}, true},
		{"subject too long", Request{Subject: strings.Repeat("a", 201)}, true},
		{"subject at limit", Request{Subject: strings.Repeat("a", 200)}, false},
		{"domain too long", Request{Subject: "Acme", Domain: strings.Repeat("b", 101)}, true},
		{"zero budget takes default", Request{Subject: "Acme"}, false},
		{"negative budget", Request{Subject: "Acme", Budget: -1}, true},
		{"budget above cap", Request{Subject: "Acme", Budget: 10.5}, true},
		{"budget at cap", Request{Subject: "Acme", Budget: 10}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, errors.ErrInvalidInput), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestBudgetFallback(t *testing.T) {
	fallback := decimal.NewFromFloat(2.00)

	r := Request{Subject: "Acme"}
	assert.True(t, r.budget(fallback).Equal(fallback))

	r.Budget = 0.5
	assert.Equal(t, "0.5", r.budget(fallback).String())
}

func TestRequestModelFallback(t *testing.T) {
	r := Request{Subject: "Acme"}
	assert.Equal(t, "x-ai/grok-4.1-fast:free", r.model("x-ai/grok-4.1-fast:free"))

	r.Model = "openai/gpt-5-mini"
	assert.Equal(t, "openai/gpt-5-mini", r.model("x-ai/grok-4.1-fast:free"))

	r.Model = "made-up/model-9000"
	assert.Equal(t, "x-ai/grok-4.1-fast:free", r.model("x-ai/grok-4.1-fast:free"))
}
