package fiat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/everifyng/everify-backend/providers"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/utils"
)

type PaystackProvider struct {
	providers.BaseProvider
	secretKey   string
	publicKey   string
	callbackURL string
	logger      *logging.Logger
}

func NewPaystackProvider(config *utils.Config, logger *logging.Logger) *PaystackProvider {
	return &PaystackProvider{
		BaseProvider: providers.BaseProvider{
			Name:    "PAYSTACK",
			BaseURL: config.PaystackBaseUrl,
			APIKey:  config.PaystackSecretKey,
			Client: &http.Client{
				Timeout: time.Second * 30,
			},
		},
		secretKey:   config.PaystackSecretKey,
		publicKey:   config.PaystackPublicKey,
		callbackURL: config.PaymentCallbackUrl,
		logger:      logger,
	}
}

// InitializeTransaction starts a checkout session and returns the hosted
// authorization URL.
func (p *PaystackProvider) InitializeTransaction(email string, amountInKobo int64, reference string) (*InitializeResponse, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid paystack base url: %w", err)
	}

	base.Path += "/transaction/initialize"

	request := InitializeRequest{
		Email:       email,
		Amount:      amountInKobo,
		Reference:   reference,
		CallbackURL: p.callbackURL,
		Currency:    "NGN",
	}

	resp, err := p.MakeRequest("POST", base.String(), request, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Error("unexpected paystack initialize response", resp.StatusCode)
		return nil, fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	var response Response[InitializeResponse]
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("error decoding response body: %w", err)
	}
	if !response.Status {
		return nil, fmt.Errorf("payment initialization failed: %s", response.Message)
	}

	return &response.Data, nil
}

// VerifyTransaction confirms a checkout by reference.
func (p *PaystackProvider) VerifyTransaction(reference string) (*TransactionData, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid paystack base url: %w", err)
	}

	base.Path += "/transaction/verify/" + reference

	resp, err := p.MakeRequest("GET", base.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Error("unexpected paystack verify response", resp.StatusCode)
		return nil, fmt.Errorf("unexpected status code: %d \nURL: %s", resp.StatusCode, resp.Request.URL)
	}

	var response Response[TransactionData]
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&response); err != nil {
		return nil, fmt.Errorf("error decoding response body: %w", err)
	}
	if !response.Status {
		return nil, fmt.Errorf("transaction verification failed: %s", response.Message)
	}

	return &response.Data, nil
}

// VerifyWebhookSignature validates the x-paystack-signature header over the
// raw body. Must be checked before any payload field is trusted.
func (p *PaystackProvider) VerifyWebhookSignature(payload []byte, signature string) bool {
	return utils.VerifyHMACSHA512(payload, p.secretKey, signature)
}

// PublicKey exposes the publishable key for checkout clients.
func (p *PaystackProvider) PublicKey() string {
	return p.publicKey
}
