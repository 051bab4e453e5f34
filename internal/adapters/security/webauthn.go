package security

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
)

// WebAuthnVerifierConfig carries relying-party settings.
type WebAuthnVerifierConfig struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// WebAuthnVerifier implements the passkey cryptographic ceremony through
// go-webauthn. The opaque sessionData payloads it hands out are marshaled
// webauthn.SessionData; the application stores them in the challenge store
// and never inspects them.
type WebAuthnVerifier struct {
	wa *webauthn.WebAuthn
}

// NewWebAuthnVerifier builds the verifier for the configured relying party.
func NewWebAuthnVerifier(cfg WebAuthnVerifierConfig) (*WebAuthnVerifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("init webauthn: %w", err)
	}
	return &WebAuthnVerifier{wa: wa}, nil
}

func (v *WebAuthnVerifier) BeginRegistration(account domain.Account, existing []domain.PasskeyCredential) ([]byte, []byte, error) {
	user, err := newWebAuthnAccount(account, existing)
	if err != nil {
		return nil, nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := v.wa.BeginRegistration(user, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("begin registration: %w", err)
	}
	return marshalCeremony(creation, session)
}

func (v *WebAuthnVerifier) FinishRegistration(account domain.Account, existing []domain.PasskeyCredential, sessionData, responseJSON []byte) (domain.PasskeyCredential, error) {
	user, err := newWebAuthnAccount(account, existing)
	if err != nil {
		return domain.PasskeyCredential{}, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(sessionData, &session); err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("%w: parse credential response: %v", domain.ErrInvalidInput, err)
	}

	credential, err := v.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("%w: validate attestation", domain.ErrInvalidCredential)
	}
	return toDomainCredential(account, *credential)
}

func (v *WebAuthnVerifier) BeginLogin() ([]byte, []byte, error) {
	assertion, session, err := v.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin login: %w", err)
	}
	return marshalCeremony(assertion, session)
}

func (v *WebAuthnVerifier) FinishLogin(ctx context.Context, resolver ports.PasskeyAccountResolver, sessionData, responseJSON []byte) (domain.Account, domain.PasskeyCredential, bool, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(sessionData, &session); err != nil {
		return domain.Account{}, domain.PasskeyCredential{}, false, fmt.Errorf("decode ceremony session: %w", err)
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return domain.Account{}, domain.PasskeyCredential{}, false, fmt.Errorf("%w: parse credential response: %v", domain.ErrInvalidInput, err)
	}

	// The library does not preserve handler errors, so the resolver's own
	// failure (lockout, unknown account, store outage) is captured here and
	// must win over the generic assertion error.
	var resolveErr error
	handler := func(_, userHandle []byte) (webauthn.User, error) {
		account, credentials, err := resolver.ResolveAccount(ctx, userHandle)
		if err != nil {
			resolveErr = err
			return nil, err
		}
		return newWebAuthnAccount(account, credentials)
	}

	validatedUser, validatedCredential, err := v.wa.ValidatePasskeyLogin(handler, session, parsed)
	if err != nil {
		if resolveErr != nil {
			return domain.Account{}, domain.PasskeyCredential{}, false, resolveErr
		}
		return domain.Account{}, domain.PasskeyCredential{}, false, fmt.Errorf("%w: validate assertion", domain.ErrInvalidCredential)
	}

	user, ok := validatedUser.(*webAuthnAccount)
	if !ok {
		return domain.Account{}, domain.PasskeyCredential{}, false, fmt.Errorf("unexpected webauthn user type %T", validatedUser)
	}
	credential, err := toDomainCredential(user.account, *validatedCredential)
	if err != nil {
		return domain.Account{}, domain.PasskeyCredential{}, false, err
	}
	return user.account, credential, validatedCredential.Authenticator.CloneWarning, nil
}

// webAuthnAccount adapts a domain account to the verifier library's user
// contract. The user handle is the raw account UUID bytes.
type webAuthnAccount struct {
	account     domain.Account
	credentials []webauthn.Credential
}

func newWebAuthnAccount(account domain.Account, stored []domain.PasskeyCredential) (*webAuthnAccount, error) {
	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, record := range stored {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.CredentialJSON, &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &webAuthnAccount{account: account, credentials: credentials}, nil
}

func (u *webAuthnAccount) WebAuthnID() []byte {
	id := u.account.AccountID
	return id[:]
}

func (u *webAuthnAccount) WebAuthnName() string {
	return u.account.Email
}

func (u *webAuthnAccount) WebAuthnDisplayName() string {
	return u.account.Email
}

func (u *webAuthnAccount) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func marshalCeremony(options any, session *webauthn.SessionData) ([]byte, []byte, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ceremony options: %w", err)
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ceremony session: %w", err)
	}
	return optionsJSON, sessionJSON, nil
}

func toDomainCredential(account domain.Account, credential webauthn.Credential) (domain.PasskeyCredential, error) {
	raw, err := json.Marshal(credential)
	if err != nil {
		return domain.PasskeyCredential{}, fmt.Errorf("encode credential: %w", err)
	}
	return domain.PasskeyCredential{
		CredentialID:   base64.RawURLEncoding.EncodeToString(credential.ID),
		AccountID:      account.AccountID,
		CredentialJSON: raw,
		SignCount:      credential.Authenticator.SignCount,
	}, nil
}
