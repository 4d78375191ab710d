package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsResolveOrder(t *testing.T) {
	creds := Credentials{
		"access_token": "generic-2",
		"token":        "generic-1",
		"api_key":      "generic-3",
	}

	assert.Equal(t, "generic-1", creds.Token(), "token alias should win over access_token")

	delete(creds, "token")
	assert.Equal(t, "generic-2", creds.Token())

	delete(creds, "access_token")
	assert.Equal(t, "generic-3", creds.Token())
}

func TestOperationTokenOverridesGeneric(t *testing.T) {
	creds := Credentials{
		"token":      "generic",
		"book_token": "book-specific",
	}

	assert.Equal(t, "book-specific", creds.OperationToken("book"))
	assert.Equal(t, "generic", creds.OperationToken("cancel"))
	assert.Equal(t, "generic", creds.OperationToken(""))
}

func TestOperationTokenAuthorizationAlias(t *testing.T) {
	creds := Credentials{
		"cancel_authorization": "cancel-header",
	}

	assert.Equal(t, "cancel-header", creds.OperationToken("cancel"))
	assert.Equal(t, "", creds.OperationToken("book"))
}

func TestCredentialsWhitespaceIgnored(t *testing.T) {
	creds := Credentials{
		"token":        "   ",
		"access_token": "real",
	}

	assert.Equal(t, "real", creds.Token(), "blank values should not satisfy resolution")
}

func TestBasicAuthAliases(t *testing.T) {
	creds := Credentials{"username": "svc", "password": "secret"}
	login, password := creds.BasicAuth()
	assert.Equal(t, "svc", login)
	assert.Equal(t, "secret", password)
}

func TestEndpointConfigured(t *testing.T) {
	ep := &Endpoint{BaseURL: "https://onec.example", Active: true}
	assert.True(t, ep.Configured())

	assert.False(t, (&Endpoint{BaseURL: "https://onec.example"}).Configured())
	assert.False(t, (&Endpoint{Active: true, BaseURL: "  "}).Configured())

	var nilEp *Endpoint
	assert.False(t, nilEp.Configured())
}
