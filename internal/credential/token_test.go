package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/swipe/internal/source"
)

func testToken(t *testing.T, payload map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(body) + ".sig"
}

func TestDecodeTwoHoursAhead(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tok := testToken(t, map[string]any{
		"user":   84233809,
		"ws_key": "1732129370",
		"iat":    now.Add(-time.Hour).Unix(),
		"exp":    now.Add(2 * time.Hour).Unix(),
	})

	info := Decode(tok, now)
	require.NotNil(t, info)
	assert.Equal(t, "84233809", info.SubjectID)
	assert.Equal(t, "1732129370", info.WorkspaceKey)
	assert.False(t, info.IsExpired)
	require.NotNil(t, info.HoursUntilExpiry)
	assert.Equal(t, 2, *info.HoursUntilExpiry)
	require.NotNil(t, info.IssuedAt)
	assert.Equal(t, now.Add(-time.Hour), *info.IssuedAt)
}

func TestDecodeExpiredIsStrict(t *testing.T) {
	exp := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tok := testToken(t, map[string]any{"user": "u1", "exp": exp.Unix()})

	atExpiry := Decode(tok, exp)
	require.NotNil(t, atExpiry)
	assert.False(t, atExpiry.IsExpired, "equal instant is not expired")

	after := Decode(tok, exp.Add(3*time.Hour))
	require.NotNil(t, after)
	assert.True(t, after.IsExpired)
	assert.Equal(t, -3, *after.HoursUntilExpiry)
	assert.ErrorIs(t, CheckUsable(after), source.ErrCredentialExpired)
}

func TestDecodeWithoutExpiry(t *testing.T) {
	info := Decode(testToken(t, map[string]any{"user": 7}), time.Now())
	require.NotNil(t, info)
	assert.Nil(t, info.ExpiresAt)
	assert.Nil(t, info.HoursUntilExpiry)
	assert.False(t, info.IsExpired)
	assert.NoError(t, CheckUsable(info))
	assert.Equal(t, "unknown", info.FormatHours())
}

func TestDecodeUnintrospectable(t *testing.T) {
	cases := map[string]string{
		"personal token":  "pk_84233809_ABCDEF",
		"two segments":    "a.b",
		"bad base64":      "a.!!!.c",
		"payload not json": "a." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".c",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, Decode(tok, time.Now()))
		})
	}
}

func TestGetCredential(t *testing.T) {
	jar := StaticJar{}
	store := NewStore(jar, "app.clickup.com", "cu_jwt")

	_, _, err := store.GetCredential(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrNotAuthenticated))
	assert.True(t, source.IsAuthError(err))

	jar.Set("app.clickup.com", "cu_jwt", "opaque-session")
	cred, info, err := store.GetCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credential("opaque-session"), cred)
	assert.Nil(t, info, "opaque tokens are usable without introspection")
}

func TestGetCredentialRecomputesExpiry(t *testing.T) {
	exp := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	jar := StaticJar{}
	jar.Set("app.clickup.com", "cu_jwt", testToken(t, map[string]any{"exp": exp.Unix()}))

	now := exp.Add(-time.Minute)
	store := NewStore(jar, "app.clickup.com", "cu_jwt").WithClock(func() time.Time { return now })

	_, info, err := store.GetCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, info.IsExpired)

	now = exp.Add(time.Minute)
	_, info, err = store.GetCredential(context.Background())
	require.NoError(t, err)
	assert.True(t, info.IsExpired)
}

func TestLocateTarget(t *testing.T) {
	target, err := LocateTarget([]string{
		"https://docs.clickup.com/123/",
		"https://app.clickup.com/settings",
		"https://app.clickup.com/9011099466/v/l/abc",
	}, "app.clickup.com", "")
	require.NoError(t, err)
	assert.Equal(t, "9011099466", target.WorkspaceID)

	pinned, err := LocateTarget(nil, "app.clickup.com", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", pinned.WorkspaceID)

	_, err = LocateTarget([]string{"https://app.clickup.com/home"}, "app.clickup.com", "")
	assert.ErrorIs(t, err, source.ErrNoTargetContext)
}
