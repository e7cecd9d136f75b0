package credential_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestead-systems/assistant-core/internal/credential"
)

func TestCallbackServer_CapturesCodeAndState(t *testing.T) {
	cs, err := credential.NewCallbackServer()
	require.NoError(t, err)

	resultC := make(chan credential.CallbackResult, 1)
	errC := make(chan error, 1)
	go func() {
		r, err := cs.Serve(context.Background(), time.Second)
		resultC <- r
		errC <- err
	}()

	time.Sleep(20 * time.Millisecond)
	url := fmt.Sprintf("http://%s/?code=abc123&state=xyz789", cs.Addr().String())
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result := <-resultC
	require.NoError(t, <-errC)
	assert.Equal(t, "abc123", result.Code)
	assert.Equal(t, "xyz789", result.State)
}

func TestCallbackServer_RejectsErrorAndMissingParametersWith400(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{"error param", "error=access_denied&state=xyz789"},
		{"missing code", "state=xyz789"},
		{"missing state", "code=abc123"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cs, err := credential.NewCallbackServer()
			require.NoError(t, err)

			resultC := make(chan credential.CallbackResult, 1)
			errC := make(chan error, 1)
			go func() {
				r, err := cs.Serve(context.Background(), time.Second)
				resultC <- r
				errC <- err
			}()

			time.Sleep(20 * time.Millisecond)
			url := fmt.Sprintf("http://%s/?%s", cs.Addr().String(), tc.query)
			resp, err := http.Get(url)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			<-resultC
			<-errC
		})
	}
}

func TestCallbackServer_TimesOutWithoutCallback(t *testing.T) {
	cs, err := credential.NewCallbackServer()
	require.NoError(t, err)

	_, err = cs.Serve(context.Background(), 20*time.Millisecond)
	assert.Error(t, err)
}
