package models

import "fmt"

// Credentials are the provider credentials persisted by the credential
// store and read by the provider client at request time.
type Credentials struct {
	AccountID       string `json:"accountId" validate:"required"`
	AccessKeyID     string `json:"accessKeyId" validate:"required"`
	SecretAccessKey string `json:"secretAccessKey" validate:"required"`
	Endpoint        string `json:"endpoint"`
	LastUpdated     string `json:"lastUpdated"`
}

// R2Endpoint derives the S3-compatible endpoint for an account.
func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}
