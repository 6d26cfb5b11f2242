package models

// PluginRegistration is an active discovery plugin.
type PluginRegistration struct {
	ID       string `json:"id"`
	Realm    string `json:"realm"`
	Callback string `json:"callback"`
}

// RegistrationRequest is the body of POST /api/v2.2/discovery.
type RegistrationRequest struct {
	Realm    string `json:"realm"`
	Callback string `json:"callback"`
	ID       string `json:"id,omitempty"`
	Token    string `json:"token,omitempty"`
}

// RegistrationResponse carries the plugin id and its current token.
type RegistrationResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}
