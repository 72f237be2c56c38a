package exchange

import (
	"fmt"
	"net/http"
	"os"
)

// EnvSignerProvider resolves an account's CredentialsRef to an API token in
// the process environment. It stands in for the external secret store in
// deployments that inject credentials as environment variables; the engine
// itself never inspects the token.
type EnvSignerProvider struct{}

// SignerFor implements SignerProvider.
func (EnvSignerProvider) SignerFor(credentialsRef string) (RequestSigner, error) {
	token := os.Getenv(credentialsRef)
	if token == "" {
		return nil, fmt.Errorf("credential %q not found in environment", credentialsRef)
	}
	return bearerSigner(token), nil
}

type bearerSigner string

func (s bearerSigner) Sign(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(s))
	return nil
}
