package models

import "maps"

// Well-known keys of the system-assigned ("cryostat") annotation map.
const (
	AnnotationRealm     = "REALM"
	AnnotationHost      = "HOST"
	AnnotationPort      = "PORT"
	AnnotationJavaMain  = "JAVA_MAIN"
	AnnotationPID       = "PID"
	AnnotationStartTime = "START_TIME"
)

// Target represents a discovered JVM.
//
// Example JSON representation:
//
//	{
//	  "jvmId": "3fbf8d6e-4e2b-5a3c-9a5e-0c8b8d1f2a71",
//	  "connectUrl": "service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi",
//	  "alias": "com.example.Main",
//	  "labels": {"team": "payments"},
//	  "annotations": {
//	    "cryostat": {"REALM": "JDP", "HOST": "app", "PORT": "9091"},
//	    "platform": {}
//	  }
//	}
type Target struct {
	// JvmID is a stable identity derived from the JVM
	JvmID string `json:"jvmId"`

	// ConnectURL is the JMX service URL (or agent URL), unique per live process
	ConnectURL string `json:"connectUrl" validate:"required"`

	// Alias is the display name, defaulting to the main class
	Alias string `json:"alias"`

	// Labels are user-set key/value pairs
	Labels map[string]string `json:"labels"`

	// Annotations are system and platform assigned metadata
	Annotations Annotations `json:"annotations"`
}

// Annotations splits target metadata by who assigned it.
type Annotations struct {
	Cryostat map[string]string `json:"cryostat"`
	Platform map[string]string `json:"platform"`
}

// Clone returns a deep copy of the target.
func (t Target) Clone() Target {
	out := t
	out.Labels = cloneMap(t.Labels)
	out.Annotations = Annotations{
		Cryostat: cloneMap(t.Annotations.Cryostat),
		Platform: cloneMap(t.Annotations.Platform),
	}
	return out
}

// DisplayName returns the alias, falling back to the connect URL.
func (t Target) DisplayName() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.ConnectURL
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
