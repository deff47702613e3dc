package authx

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const kvsep = "\x01"

// OAuthBearerBindRequest authenticates with an OAuth 2.0 bearer token using
// the OAUTHBEARER SASL mechanism (RFC 7628). The token is obtained from the
// token source at encode time, so a refreshing source yields a fresh token
// on every bind attempt.
type OAuthBearerBindRequest struct {
	requestState
	tokenSource     oauth2.TokenSource
	authorizationID string
	host            string
	port            int
	controls        []Control
}

// NewOAuthBearerBindRequest creates an OAUTHBEARER bind request. tokenSource
// is required. authorizationID, host and port are optional ("" and 0 omit
// them from the encoded response).
func NewOAuthBearerBindRequest(tokenSource oauth2.TokenSource, authorizationID, host string, port int, controls ...Control) (*OAuthBearerBindRequest, error) {
	if tokenSource == nil {
		return nil, usageErrorf("an OAUTHBEARER bind request requires a token source")
	}
	if port < 0 || port > 65535 {
		return nil, usageErrorf("an OAUTHBEARER bind request port must be between 0 and 65535")
	}
	return &OAuthBearerBindRequest{
		requestState:    newRequestState(),
		tokenSource:     tokenSource,
		authorizationID: authorizationID,
		host:            host,
		port:            port,
		controls:        copyControls(controls),
	}, nil
}

// NewStaticOAuthBearerBindRequest creates an OAUTHBEARER bind request for a
// fixed access token.
func NewStaticOAuthBearerBindRequest(accessToken, authorizationID, host string, port int, controls ...Control) (*OAuthBearerBindRequest, error) {
	if accessToken == "" {
		return nil, usageErrorf("an OAUTHBEARER bind request requires an access token")
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return NewOAuthBearerBindRequest(source, authorizationID, host, port, controls...)
}

// OAuthBearerCredentials are the fields of a decoded OAUTHBEARER initial
// client response.
type OAuthBearerCredentials struct {
	AuthorizationID string
	Host            string
	Port            int
	AccessToken     string
}

// DecodeOAuthBearerCredentials decodes an OAUTHBEARER initial client
// response (RFC 7628 section 3.1).
func DecodeOAuthBearerCredentials(credentials []byte) (*OAuthBearerCredentials, error) {
	const name = "OAUTHBEARER credentials"
	if len(credentials) == 0 {
		return nil, emptyCredentialsError(OAuthBearerMechanismName)
	}
	gs2, rest, found := strings.Cut(string(credentials), kvsep)
	if !found {
		return nil, decodeErrorf("%s are missing the key/value separator", name)
	}
	decoded := &OAuthBearerCredentials{}
	if !strings.HasPrefix(gs2, "n,") && !strings.HasPrefix(gs2, "y,") {
		return nil, decodeErrorf("%s have a malformed GS2 header", name)
	}
	authz := strings.TrimSuffix(gs2[2:], ",")
	if len(authz) == len(gs2)-2 {
		return nil, decodeErrorf("%s have a malformed GS2 header", name)
	}
	if authz != "" {
		if !strings.HasPrefix(authz, "a=") {
			return nil, decodeErrorf("%s have a malformed GS2 header", name)
		}
		decoded.AuthorizationID = authz[2:]
	}
	for _, item := range strings.Split(rest, kvsep) {
		if item == "" {
			continue
		}
		key, value, found := strings.Cut(item, "=")
		if !found {
			return nil, decodeErrorf("%s contain a malformed key/value pair", name)
		}
		switch key {
		case "host":
			decoded.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil || port < 0 || port > 65535 {
				return nil, decodeErrorf("%s contain a malformed port", name)
			}
			decoded.Port = port
		case "auth":
			token, found := strings.CutPrefix(value, "Bearer ")
			if !found {
				return nil, decodeErrorf("%s contain a non-bearer auth value", name)
			}
			decoded.AccessToken = token
		default:
			return nil, decodeErrorf("%s contain an unrecognized key %q", name, key)
		}
	}
	if decoded.AccessToken == "" {
		return nil, missingFieldError(name, "auth")
	}
	return decoded, nil
}

// TokenSource returns the bearer token source.
func (r *OAuthBearerBindRequest) TokenSource() oauth2.TokenSource {
	return r.tokenSource
}

// AuthorizationID returns the authorization identity, or "" when the request
// does not request an alternate authorization identity.
func (r *OAuthBearerBindRequest) AuthorizationID() string {
	return r.authorizationID
}

// Host returns the server host included in the encoded response, or "".
func (r *OAuthBearerBindRequest) Host() string {
	return r.host
}

// Port returns the server port included in the encoded response, or 0.
func (r *OAuthBearerBindRequest) Port() int {
	return r.port
}

// SASLMechanismName returns "OAUTHBEARER".
func (r *OAuthBearerBindRequest) SASLMechanismName() string {
	return OAuthBearerMechanismName
}

// Controls returns the request controls.
func (r *OAuthBearerBindRequest) Controls() []Control {
	return r.controls
}

// EncodeCredentials obtains a token from the token source and returns the
// OAUTHBEARER initial client response.
func (r *OAuthBearerBindRequest) EncodeCredentials() ([]byte, error) {
	token, err := r.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("authx: obtaining bearer token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("authx: token source returned an empty access token")
	}
	var b strings.Builder
	b.WriteString("n,")
	if r.authorizationID != "" {
		b.WriteString("a=" + r.authorizationID)
	}
	b.WriteString(",")
	b.WriteString(kvsep)
	if r.host != "" {
		b.WriteString("host=" + r.host)
		b.WriteString(kvsep)
	}
	if r.port > 0 {
		b.WriteString("port=" + strconv.Itoa(r.port))
		b.WriteString(kvsep)
	}
	b.WriteString("auth=Bearer " + token.AccessToken)
	b.WriteString(kvsep)
	b.WriteString(kvsep)
	return []byte(b.String()), nil
}

// Process sends the bind request over conn and returns the outcome.
func (r *OAuthBearerBindRequest) Process(conn BindConn) (*BindResult, error) {
	return processSASLBind(conn, r, &r.requestState)
}

// Duplicate returns a copy of the request with no recorded message ID.
func (r *OAuthBearerBindRequest) Duplicate() BindRequest {
	return r.duplicate()
}

// RebindRequest returns a request that authenticates a connection to
// host:port with a token from the same source.
func (r *OAuthBearerBindRequest) RebindRequest(host string, port int) BindRequest {
	d := r.duplicate()
	d.host = host
	d.port = port
	return d
}

func (r *OAuthBearerBindRequest) duplicate() *OAuthBearerBindRequest {
	return &OAuthBearerBindRequest{
		requestState:    newRequestState(),
		tokenSource:     r.tokenSource,
		authorizationID: r.authorizationID,
		host:            r.host,
		port:            r.port,
		controls:        copyControls(r.controls),
	}
}

// AppendToCode appends a source-like reconstruction of the request to b.
func (r *OAuthBearerBindRequest) AppendToCode(b *strings.Builder, indent int) {
	lines := []string{
		"request, err := authx.NewOAuthBearerBindRequest(",
		"\ttokenSource, // bearer token source",
		"\t" + quoteCode(r.authorizationID) + ", // authorization ID",
		"\t" + quoteCode(r.host) + ", // host",
		"\t" + strconv.Itoa(r.port) + ", // port",
	}
	if line := controlsCodeLine(r.controls); line != "" {
		lines = append(lines, line)
	}
	lines = append(lines, ")")
	appendCodeLines(b, indent, lines...)
}

func (r *OAuthBearerBindRequest) String() string {
	s := "OAuthBearerBindRequest("
	if r.authorizationID != "" {
		s += "authorizationID=" + quoteCode(r.authorizationID) + ", "
	}
	s += fmt.Sprintf("host=%s, port=%d", quoteCode(r.host), r.port)
	if len(r.controls) > 0 {
		s += fmt.Sprintf(", controls=%d", len(r.controls))
	}
	return s + ")"
}
