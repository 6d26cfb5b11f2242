package api

import (
	"net/http"

	"evalgo.org/flightdeck/models"
)

// V2Response is the envelope of /api/v2 and later endpoints.
type V2Response struct {
	Meta V2Meta `json:"meta"`
	Data V2Data `json:"data"`
}

// V2Meta describes the envelope's payload.
type V2Meta struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// V2Data holds the result.
type V2Data struct {
	Result interface{} `json:"result"`
}

func v2(code int, result interface{}) V2Response {
	status := "OK"
	switch code {
	case http.StatusCreated:
		status = "Created"
	case http.StatusAccepted:
		status = "Accepted"
	}
	return V2Response{
		Meta: V2Meta{Type: "application/json", Status: status},
		Data: V2Data{Result: result},
	}
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// RuleRequest creates a rule. Form and JSON bodies are accepted.
type RuleRequest struct {
	Name                  string `json:"name" form:"name" validate:"required,rulename"`
	Description           string `json:"description" form:"description"`
	MatchExpression       string `json:"matchExpression" form:"matchExpression" validate:"required"`
	EventSpecifier        string `json:"eventSpecifier" form:"eventSpecifier" validate:"required,eventspec"`
	Enabled               *bool  `json:"enabled" form:"enabled"`
	InitialDelaySeconds   int    `json:"initialDelaySeconds" form:"initialDelaySeconds" validate:"gte=0"`
	ArchivalPeriodSeconds int    `json:"archivalPeriodSeconds" form:"archivalPeriodSeconds" validate:"gte=0"`
	PreservedArchives     int    `json:"preservedArchives" form:"preservedArchives" validate:"gte=0"`
	MaxAgeSeconds         int    `json:"maxAgeSeconds" form:"maxAgeSeconds" validate:"gte=0"`
	MaxSizeBytes          int64  `json:"maxSizeBytes" form:"maxSizeBytes" validate:"gte=-1"`
}

// Rule converts the request into a rule definition. Rules are enabled
// unless the request says otherwise.
func (r RuleRequest) Rule() models.Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return models.Rule{
		Name:                  r.Name,
		Description:           r.Description,
		MatchExpression:       r.MatchExpression,
		EventSpecifier:        r.EventSpecifier,
		Enabled:               enabled,
		InitialDelaySeconds:   r.InitialDelaySeconds,
		ArchivalPeriodSeconds: r.ArchivalPeriodSeconds,
		PreservedArchives:     r.PreservedArchives,
		MaxAgeSeconds:         r.MaxAgeSeconds,
		MaxSizeBytes:          r.MaxSizeBytes,
	}
}

// RulePatch enables or disables a rule.
type RulePatch struct {
	Enabled *bool `json:"enabled" form:"enabled" validate:"required"`
}

// CredentialRequest stores a credential.
type CredentialRequest struct {
	MatchExpression string `json:"matchExpression" form:"matchExpression" validate:"required"`
	Username        string `json:"username" form:"username" validate:"required"`
	Password        string `json:"password" form:"password" validate:"required"`
}

// TargetRequest adds a custom target.
type TargetRequest struct {
	ConnectURL  string            `json:"connectUrl" form:"connectUrl" validate:"required"`
	Alias       string            `json:"alias" form:"alias"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// RecordingRequest starts a recording on a target.
type RecordingRequest struct {
	RecordingName string `json:"recordingName" form:"recordingName" validate:"required"`
	Events        string `json:"events" form:"events" validate:"required,eventspec"`
	Duration      int64  `json:"duration" form:"duration" validate:"gte=0"`
	ToDisk        *bool  `json:"toDisk" form:"toDisk"`
	MaxAge        int64  `json:"maxAge" form:"maxAge" validate:"gte=0"`
	MaxSize       int64  `json:"maxSize" form:"maxSize" validate:"gte=0"`
	ArchiveOnStop bool   `json:"archiveOnStop" form:"archiveOnStop"`
	// Replace is ALWAYS, STOPPED or NEVER and wins over Restart
	Replace string `json:"replace" form:"replace" validate:"omitempty,oneof=ALWAYS STOPPED NEVER always stopped never"`
	Restart bool   `json:"restart" form:"restart"`
	// Labels are merged into the recording metadata
	Labels map[string]string `json:"labels"`
}

// MatchExpressionRequest evaluates an expression against targets.
type MatchExpressionRequest struct {
	MatchExpression string          `json:"matchExpression" form:"matchExpression" validate:"required"`
	Targets         []models.Target `json:"targets"`
}

// MatchExpressionResult lists the targets an expression matched.
type MatchExpressionResult struct {
	MatchExpression string          `json:"matchExpression"`
	Targets         []models.Target `json:"targets"`
}

// DiscoveryPlugin is a registered plugin with its realm subtree.
type DiscoveryPlugin struct {
	ID       string                `json:"id"`
	Realm    *models.DiscoveryNode `json:"realm"`
	Callback string                `json:"callback"`
}

// HealthResponse reports service status.
type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	Targets       int    `json:"targets"`
	Realms        int    `json:"realms"`
	Plugins       int    `json:"plugins"`
	Rules         int    `json:"rules"`
	Notifications int    `json:"notificationClients"`
}
