package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var values = []IRValue{IRNull{}, IRString("s"), IRInt(1), IRBool(true), IRArray{}, IRObject{}}
	assert.Len(t, values, 6)
}

func TestCompareKeysRFC8785(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "b", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"a", "ab", -1},
		{"\U00010000", "\uE000", -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, compareKeysRFC8785(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{"c": IRInt(1), "a": IRInt(2), "b": IRInt(3)}
	assert.Equal(t, []string{"a", "b", "c"}, obj.SortedKeys())
}

func TestIRObjectClone(t *testing.T) {
	orig := IRObject{"nested": IRObject{"x": IRInt(1)}, "list": IRArray{IRString("a")}}
	clone := orig.Clone()

	clone["nested"].(IRObject)["x"] = IRInt(99)
	clone["list"].(IRArray)[0] = IRString("z")

	assert.Equal(t, IRInt(1), orig["nested"].(IRObject)["x"])
	assert.Equal(t, IRString("a"), orig["list"].(IRArray)[0])
	assert.Nil(t, IRObject(nil).Clone())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"same string", IRString("a"), IRString("a"), true},
		{"different type", IRString("1"), IRInt(1), false},
		{"nil and null", nil, IRNull{}, true},
		{"null and value", IRNull{}, IRInt(0), false},
		{"arrays", IRArray{IRInt(1)}, IRArray{IRInt(1)}, true},
		{"array length", IRArray{IRInt(1)}, IRArray{}, false},
		{"objects", IRObject{"a": IRBool(true)}, IRObject{"a": IRBool(true)}, true},
		{"object values", IRObject{"a": IRBool(true)}, IRObject{"a": IRBool(false)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"name":"Zelda","plays":3,"tags":["a"],"gone":null}`))
	require.NoError(t, err)

	obj, ok := v.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRString("Zelda"), obj["name"])
	assert.Equal(t, IRInt(3), obj["plays"])
	assert.Equal(t, IRArray{IRString("a")}, obj["tags"])
	assert.Equal(t, IRNull{}, obj["gone"])
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`{"ratio":1.5}`))
	require.Error(t, err)

	var obj IRObject
	err = json.Unmarshal([]byte(`{"ratio":1e3}`), &obj)
	require.Error(t, err)
}

func TestFromAny(t *testing.T) {
	t.Run("integral float accepted", func(t *testing.T) {
		v, err := FromAny(float64(7))
		require.NoError(t, err)
		assert.Equal(t, IRInt(7), v)
	})

	t.Run("fractional float rejected", func(t *testing.T) {
		_, err := FromAny(7.5)
		require.Error(t, err)
	})

	t.Run("string slices and maps", func(t *testing.T) {
		v, err := FromAny(map[string]any{"list": []string{"a"}, "m": map[string]string{"k": "v"}})
		require.NoError(t, err)
		assert.Equal(t, IRObject{
			"list": IRArray{IRString("a")},
			"m":    IRObject{"k": IRString("v")},
		}, v)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := FromAny(struct{}{})
		require.Error(t, err)
	})
}

func TestMarshalIRValueRoundTrip(t *testing.T) {
	orig := IRObject{
		"s":   IRString("<x>"),
		"i":   IRInt(-4),
		"b":   IRBool(true),
		"arr": IRArray{IRInt(1), IRObject{"k": IRString("v")}},
	}

	data, err := MarshalIRValue(orig)
	require.NoError(t, err)

	back, err := UnmarshalIRValue(data)
	require.NoError(t, err)
	assert.True(t, Equal(orig, back))
}

func TestToAny(t *testing.T) {
	v := IRObject{"a": IRArray{IRInt(1), IRBool(false)}, "n": IRNull{}}
	assert.Equal(t, map[string]any{"a": []any{int64(1), false}, "n": nil}, ToAny(v))
}
