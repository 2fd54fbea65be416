package ledger

import (
	"fmt"

	"Cassegrain/internal/logger"
)

// InitializeParams are the global parameters of a new authority.
type InitializeParams struct {
	Authority                  Hash   // Authority is the caller
	RegistrationFee            uint64 // RegistrationFee is recorded, never charged
	MaxEventsPerProduct        uint32 // MaxEventsPerProduct caps create_event, 0 disables
	MaxProductsPerManufacturer uint32
	MinEventInterval           int64 // MinEventInterval is in seconds
	MaxBatchSize               uint8
}

// Initialize creates the config record of p.Authority.
func (l *Ledger) Initialize(p InitializeParams) (*Config, error) {
	if p.Authority.IsZero() {
		return nil, invalidf("authority is zero")
	}
	if p.MaxBatchSize == 0 {
		return nil, invalidf("max_batch_size must be positive")
	}
	if p.MinEventInterval < 0 {
		return nil, invalidf("min_event_interval is negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ConfigKey(p.Authority)

	exists, err := l.st.exists(key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("config %s:\n%w", p.Authority.Short(), ErrAlreadyExists)
	}

	cfg := &Config{
		Authority:                  p.Authority,
		RegistrationFee:            p.RegistrationFee,
		FeeTreasury:                p.Authority,
		MaxEventsPerProduct:        p.MaxEventsPerProduct,
		MaxProductsPerManufacturer: p.MaxProductsPerManufacturer,
		MinEventInterval:           p.MinEventInterval,
		MaxBatchSize:               p.MaxBatchSize,
		Salt:                       DerivationSalt,
	}

	t := l.begin()
	defer t.close()

	if err := l.st.stage(t.batch, key, cfg); err != nil {
		return nil, err
	}
	if err := l.commit(t); err != nil {
		return nil, err
	}

	logger.Info("config initialized", "authority", p.Authority.Short(), "max_batch_size", p.MaxBatchSize)

	return cfg, nil
}

// SetPausedParams toggle the pause switch.
type SetPausedParams struct {
	Authority Hash // Authority must own the config
	Paused    bool
}

// SetPaused flips the pause flag. Only the config authority may call it,
// and it is the one mutation allowed while paused.
func (l *Ledger) SetPaused(p SetPausedParams) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.st.config(p.Authority)
	if err != nil {
		return nil, fmt.Errorf("load config:\n%w", err)
	}
	if cfg.Authority != p.Authority {
		return nil, ErrUnauthorized
	}

	t := l.begin()
	defer t.close()

	cfg.IsPaused = p.Paused

	if err := l.st.stage(t.batch, ConfigKey(p.Authority), cfg); err != nil {
		return nil, err
	}
	err = t.out.add(Notification{
		Kind:         NotifyPauseChanged,
		PauseChanged: &PauseChanged{Authority: p.Authority, Paused: p.Paused, Timestamp: t.now},
	})
	if err != nil {
		return nil, err
	}
	if err := l.commit(t); err != nil {
		return nil, err
	}

	logger.Warn("pause switch changed", "authority", p.Authority.Short(), "paused", p.Paused)

	return cfg, nil
}

// RegisterManufacturerParams describe a new registrant.
type RegisterManufacturerParams struct {
	Authority      Hash // Authority selects the config
	Signer         Hash // Signer becomes the profile owner
	CompanyName    string
	BusinessType   BusinessType
	Certifications string
}

// RegisterManufacturer creates the profile of p.Signer, unverified.
func (l *Ledger) RegisterManufacturer(p RegisterManufacturerParams) (*ManufacturerProfile, error) {
	if p.Signer.IsZero() {
		return nil, invalidf("signer is zero")
	}
	if err := checkText("company_name", p.CompanyName); err != nil {
		return nil, err
	}
	if err := checkText("certifications", p.Certifications); err != nil {
		return nil, err
	}
	if !p.BusinessType.Valid() {
		return nil, invalidf("business type %d", p.BusinessType)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.activeConfig(p.Authority); err != nil {
		return nil, err
	}

	key := ManufacturerKey(p.Signer)

	exists, err := l.st.exists(key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("manufacturer %s:\n%w", p.Signer.Short(), ErrAlreadyExists)
	}

	profile := &ManufacturerProfile{
		CompanyName:    p.CompanyName,
		BusinessType:   p.BusinessType,
		Owner:          p.Signer,
		Certifications: p.Certifications,
		Salt:           DerivationSalt,
	}

	t := l.begin()
	defer t.close()

	if err := l.st.stage(t.batch, key, profile); err != nil {
		return nil, err
	}
	if err := l.commit(t); err != nil {
		return nil, err
	}

	logger.Debug("manufacturer registered", "owner", p.Signer.Short(), "company", p.CompanyName)

	return profile, nil
}

// VerifyManufacturerParams mark a profile as verified.
type VerifyManufacturerParams struct {
	Authority Hash // Authority must own the config
	Owner     Hash // Owner selects the profile
}

// VerifyManufacturer sets is_verified on the owner's profile.
// Verifying an already verified profile succeeds without a new notification.
func (l *Ledger) VerifyManufacturer(p VerifyManufacturerParams) (*ManufacturerProfile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.activeConfig(p.Authority); err != nil {
		return nil, err
	}

	profile, err := l.st.manufacturer(p.Owner)
	if err != nil {
		return nil, fmt.Errorf("load manufacturer:\n%w", err)
	}
	if profile.IsVerified {
		return profile, nil
	}

	t := l.begin()
	defer t.close()

	profile.IsVerified = true

	if err := l.st.stage(t.batch, ManufacturerKey(p.Owner), profile); err != nil {
		return nil, err
	}
	err = t.out.add(Notification{
		Kind: NotifyManufacturerVerified,
		ManufacturerVerified: &ManufacturerVerified{
			Owner:     p.Owner,
			Authority: p.Authority,
			Timestamp: t.now,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := l.commit(t); err != nil {
		return nil, err
	}

	logger.Info("manufacturer verified", "owner", p.Owner.Short())

	return profile, nil
}
