package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"storepay/crypto"
)

// Config captures runtime configuration for the checkout gateway service.
// It is loaded once at process start and treated as read-only afterwards.
type Config struct {
	ListenAddress  string
	Environment    string
	DatabasePath   string
	LedgerURL      string
	LedgerToken    string
	LedgerTimeout  time.Duration
	MerchantKeyEnv string
	PaymentAsset   crypto.PublicKey
	LoyaltyAsset   crypto.PublicKey
	ShopLabel      string
	ShopIcon       string
	RateLimitRPM   float64
	RateLimitBurst int
}

const (
	envListen        = "CHECKOUT_GATEWAY_LISTEN"
	envEnvironment   = "CHECKOUT_GATEWAY_ENV"
	envDBPath        = "CHECKOUT_GATEWAY_DB"
	envLedgerURL     = "CHECKOUT_GATEWAY_LEDGER_URL"
	envLedgerToken   = "CHECKOUT_GATEWAY_LEDGER_TOKEN"
	envLedgerTimeout = "CHECKOUT_GATEWAY_LEDGER_TIMEOUT"
	envMerchantKey   = "CHECKOUT_GATEWAY_MERCHANT_KEY_ENV"
	envPaymentAsset  = "CHECKOUT_GATEWAY_PAYMENT_ASSET"
	envLoyaltyAsset  = "CHECKOUT_GATEWAY_LOYALTY_ASSET"
	envShopLabel     = "CHECKOUT_GATEWAY_LABEL"
	envShopIcon      = "CHECKOUT_GATEWAY_ICON"
	envRateLimitRPM  = "CHECKOUT_GATEWAY_RATE_RPM"
	envRateBurst     = "CHECKOUT_GATEWAY_RATE_BURST"
)

const (
	defaultShopLabel = "Cookies Inc"
	defaultShopIcon  = "https://freesvg.org/img/1370962427.png"
)

// LoadConfigFromEnv resolves configuration from environment variables with
// sane defaults. The merchant signing key is deliberately not required here:
// its absence fails each construction attempt, not the process.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddress:  getenvDefault(envListen, ":8080"),
		Environment:    strings.TrimSpace(os.Getenv(envEnvironment)),
		DatabasePath:   getenvDefault(envDBPath, "checkout-gateway.db"),
		LedgerURL:      strings.TrimSpace(os.Getenv(envLedgerURL)),
		LedgerToken:    strings.TrimSpace(os.Getenv(envLedgerToken)),
		LedgerTimeout:  parseDurationDefault(envLedgerTimeout, 10*time.Second),
		MerchantKeyEnv: getenvDefault(envMerchantKey, "CHECKOUT_GATEWAY_MERCHANT_KEY"),
		ShopLabel:      getenvDefault(envShopLabel, defaultShopLabel),
		ShopIcon:       getenvDefault(envShopIcon, defaultShopIcon),
		RateLimitRPM:   parseFloatDefault(envRateLimitRPM, 600),
		RateLimitBurst: parseIntDefault(envRateBurst, 20),
	}

	if cfg.LedgerURL == "" {
		return nil, fmt.Errorf("%s is required", envLedgerURL)
	}

	paymentAsset, err := requireKey(envPaymentAsset)
	if err != nil {
		return nil, err
	}
	cfg.PaymentAsset = paymentAsset

	loyaltyAsset, err := requireKey(envLoyaltyAsset)
	if err != nil {
		return nil, err
	}
	cfg.LoyaltyAsset = loyaltyAsset

	return cfg, nil
}

// MerchantKey reads and parses the signing material named by MerchantKeyEnv.
// Returns nil without error when the variable is unset.
func (c *Config) MerchantKey() (*crypto.PrivateKey, error) {
	material := strings.TrimSpace(os.Getenv(c.MerchantKeyEnv))
	if material == "" {
		return nil, nil
	}
	key, err := crypto.DecodePrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("invalid merchant key material in %s: %w", c.MerchantKeyEnv, err)
	}
	return key, nil
}

func requireKey(envName string) (crypto.PublicKey, error) {
	raw := strings.TrimSpace(os.Getenv(envName))
	if raw == "" {
		return crypto.PublicKey{}, fmt.Errorf("%s is required", envName)
	}
	key, err := crypto.DecodePublicKey(raw)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("%s: %w", envName, err)
	}
	return key, nil
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func parseDurationDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func parseFloatDefault(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func parseIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
