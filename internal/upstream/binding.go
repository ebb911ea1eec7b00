// Package upstream implements the UpstreamClient stage of the proxy
// pipeline (spec.md §4.7): it builds and sends the outbound request to a
// provider's real API, passing the (possibly sanitised) body through
// unchanged and forwarding whatever HTTP status the provider returns.
package upstream

// AuthStyle enumerates how a ProviderBinding's credential is injected into
// the outbound request.
type AuthStyle string

const (
	// AuthStyleBearer sends "Authorization: Bearer <credential>".
	AuthStyleBearer AuthStyle = "bearer"
	// AuthStyleHeaderPair sends "x-api-key: <credential>" plus a fixed
	// protocol-version header (the shape Anthropic's API expects).
	AuthStyleHeaderPair AuthStyle = "header_pair"
)

// protocolVersionHeader is the fixed second header sent alongside
// x-api-key under AuthStyleHeaderPair.
const protocolVersionHeader = "anthropic-version"

// protocolVersion is the fixed value of protocolVersionHeader.
const protocolVersion = "2023-06-01"

// ProviderBinding is the static, immutable configuration for one upstream
// provider, created once at startup (spec.md §3).
type ProviderBinding struct {
	Name            string
	UpstreamBaseURL string
	Credential      string
	AuthStyle       AuthStyle
}
