package matchexpr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/flightdeck/models"
)

func sampleTarget() models.Target {
	return models.Target{
		JvmID:      "jvm-1",
		ConnectURL: "service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi",
		Alias:      "com.example.Main",
		Labels:     map[string]string{"env": "prod", "app.kubernetes.io/name": "shop"},
		Annotations: models.Annotations{
			Cryostat: map[string]string{"REALM": "JDP", "PORT": "9091", "JAVA_MAIN": "com.example.Main"},
			Platform: map[string]string{},
		},
	}
}

func TestEvaluate(t *testing.T) {
	ev := NewEvaluator()
	target := sampleTarget()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"literal true", "true", true},
		{"alias equality", "target.alias == 'com.example.Main'", true},
		{"alias double quoted", `target.alias == "com.example.Main"`, true},
		{"strict equality", "target.alias === 'com.example.Main'", true},
		{"inequality", "target.alias != 'other'", true},
		{"connect url", "target.connectUrl == 'service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi'", true},
		{"jvm id", "target.jvmId == 'jvm-1'", true},
		{"label", "target.labels.env == 'prod'", true},
		{"bracket label", "target.labels['app.kubernetes.io/name'] == 'shop'", true},
		{"annotation", "target.annotations.cryostat.REALM == 'JDP'", true},
		{"number against string", "target.annotations.cryostat.PORT == 9091", true},
		{"number mismatch", "target.annotations.cryostat['PORT'] == 9092", false},
		{"and", "target.labels.env == 'prod' && target.alias == 'x'", false},
		{"or", "target.labels.env == 'dev' || target.alias == 'com.example.Main'", true},
		{"not", "!(target.labels.env == 'dev')", true},
		{"regex", "/^service:jmx:rmi/.test(target.connectUrl)", true},
		{"regex case insensitive", "/COM\\.EXAMPLE/i.test(target.alias)", true},
		{"regex no match", "/^foo/.test(target.alias)", false},
		{"missing label equality", "target.labels.missing == 'x'", false},
		{"missing label inequality", "target.labels.missing != 'x'", false},
		{"missing platform annotation", "target.annotations.platform.NAMESPACE == 'ns'", false},
		{"missing inside not", "!(target.labels.missing == 'x')", true},
		{"regex on missing", "/.*/.test(target.labels.missing)", false},
		{"precedence", "false && false || true", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.expr, target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"blank", "   "},
		{"host call", "System.exit(1)"},
		{"method on field", "target.alias.toString() == 'x'"},
		{"unknown root", "process.env == 'x'"},
		{"unknown field", "target.host == 'x'"},
		{"too deep", "target.labels.a.b == 'x'"},
		{"string result", "target.alias"},
		{"number result", "42"},
		{"non boolean operand", "target.alias && true"},
		{"regex method", "/a/.exec(target.alias)"},
		{"regex flag", "/a/x.test(target.alias)"},
		{"unterminated string", "target.alias == 'abc"},
		{"trailing tokens", "true true"},
		{"assignment", "target.alias = 'x'"},
		{"unbalanced", "(target.alias == 'x'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr)
			require.Error(t, err)
			assert.True(t, IsInvalid(err))
			assert.True(t, errors.Is(err, models.ErrInvalid))
		})
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	ev := NewEvaluator()
	target := sampleTarget()
	expr := "target.labels.env == 'prod' && /Main$/.test(target.alias)"

	first, err := ev.Evaluate(expr, target)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := ev.Evaluate(expr, target)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, sampleTarget(), target)
}

func TestEvaluatorCachesCompiledExpressions(t *testing.T) {
	ev := NewEvaluator()
	a, err := ev.Compile("true")
	require.NoError(t, err)
	b, err := ev.Compile("true")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestFilter(t *testing.T) {
	ev := NewEvaluator()
	a := sampleTarget()
	b := sampleTarget()
	b.ConnectURL = "service:jmx:rmi:///jndi/rmi://other:9091/jmxrmi"
	b.Labels = map[string]string{"env": "dev"}

	got, err := ev.Filter("target.labels.env == 'dev'", []models.Target{a, b})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ConnectURL, got[0].ConnectURL)

	_, err = ev.Filter("nope(", nil)
	assert.Error(t, err)
}
