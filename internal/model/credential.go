package model

// CredentialStatus tells the client whether generation may start
type CredentialStatus struct {
	HasCredential bool `json:"hasCredential"`
}

// ConnectCredentialRequest selects the API key used for generation
type ConnectCredentialRequest struct {
	APIKey string `json:"apiKey" validate:"omitempty,min=10,max=256"`
}
