package dkim

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ultrazend/ultrazend/internal/config"
	"github.com/ultrazend/ultrazend/internal/email"
)

// Provider picks the signer for a sender address
type Provider struct {
	signers map[string]*Signer // domain -> signer
}

// NewProvider loads a signer for every configured domain
func NewProvider(domains map[string]config.DKIMDomainConfig, logger *slog.Logger) (*Provider, error) {
	p := &Provider{signers: make(map[string]*Signer, len(domains))}

	for domain, dc := range domains {
		domain = strings.ToLower(domain)
		signer, err := NewSignerFromFile(dc.KeyFile, domain, dc.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM signer for %s: %w", domain, err)
		}
		p.add(signer)
		logger.Info("loaded DKIM signer", "domain", domain, "selector", dc.Selector)
	}

	return p, nil
}

// add registers signer for its domain, replacing any previous one
func (p *Provider) add(signer *Signer) {
	p.signers[strings.ToLower(signer.Domain())] = signer
}

// SignerFor returns the signer for addr's domain, falling back to parent
// domains (mail.example.com -> example.com). It returns nil when none match.
func (p *Provider) SignerFor(addr string) *Signer {
	if p == nil {
		return nil
	}

	domain := email.Domain(addr)
	if domain == "" {
		return nil
	}

	if signer, ok := p.signers[domain]; ok {
		return signer
	}

	parts := strings.Split(domain, ".")
	for i := 1; i < len(parts)-1; i++ {
		if signer, ok := p.signers[strings.Join(parts[i:], ".")]; ok {
			return signer
		}
	}

	return nil
}

// Domains returns the configured signing domains in sorted order
func (p *Provider) Domains() []string {
	domains := make([]string, 0, len(p.signers))
	for d := range p.signers {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
