package application

import (
	"time"

	"github.com/latchkey/auth-service/internal/ports"
)

type Service struct {
	cfg        Config
	accounts   ports.AccountRepository
	sessions   ports.SessionRepository
	tokens     ports.TokenRepository
	passkeys   ports.PasskeyRepository
	attempts   ports.AuthAttemptRepository
	lockouts   ports.LockoutStore
	challenges ports.ChallengeStore
	codec      ports.TokenCodec
	verifier   ports.PasskeyVerifier
	mailer     ports.Mailer
	nowFn      func() time.Time
}

type Dependencies struct {
	Config     Config
	Accounts   ports.AccountRepository
	Sessions   ports.SessionRepository
	Tokens     ports.TokenRepository
	Passkeys   ports.PasskeyRepository
	Attempts   ports.AuthAttemptRepository
	Lockouts   ports.LockoutStore
	Challenges ports.ChallengeStore
	Codec      ports.TokenCodec
	Verifier   ports.PasskeyVerifier
	Mailer     ports.Mailer
}

func NewService(deps Dependencies) *Service {
	return &Service{
		cfg:        deps.Config,
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		passkeys:   deps.Passkeys,
		attempts:   deps.Attempts,
		lockouts:   deps.Lockouts,
		challenges: deps.Challenges,
		codec:      deps.Codec,
		verifier:   deps.Verifier,
		mailer:     deps.Mailer,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}
