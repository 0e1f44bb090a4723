package param

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Params {
	return Params{
		"EchoTime":       Float(2.46, "ms"),
		"RepetitionTime": Float(2300, "ms"),
		"Manufacturer":   String("SIEMENS"),
		"ImageType":      List("ORIGINAL", "PRIMARY"),
	}
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Float(2.46, "ms").Equal(Float(2.46+1e-12, "ms")))
	assert.False(t, Float(2.46, "ms").Equal(Float(2.46, "s")), "unit is part of identity")
	assert.False(t, Float(1, "").Equal(Int(1, "")), "kind is part of identity")
	assert.True(t, Invalid(KindFloat).Equal(Invalid(KindFloat)))
	assert.False(t, Invalid(KindFloat).Equal(Float(0, "")))
	assert.False(t, List("a", "b").Equal(List("b", "a")))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "2.46 ms", Float(2.46, "ms").String())
	assert.Equal(t, "[A,B]", List("A", "B").String())
	assert.Equal(t, "<invalid>", Invalid(KindString).String())
}

func TestAsFloat(t *testing.T) {
	f, ok := Int(3, "").AsFloat()
	require.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = String("1.5").AsFloat()
	require.True(t, ok)
	assert.Equal(t, 1.5, f)

	_, ok = Bool(true).AsFloat()
	assert.False(t, ok)
}

func TestParamsDiff(t *testing.T) {
	a := sample()
	b := sample()
	assert.Empty(t, a.Diff(b))
	assert.True(t, a.Equal(b))

	b["EchoTime"] = Float(5.0, "ms")
	delete(b, "Manufacturer")
	b["FlipAngle"] = Float(9, "deg")

	d := a.Diff(b)
	require.Len(t, d, 3)
	assert.Equal(t, "EchoTime", d[0].Name)
	assert.Equal(t, "FlipAngle", d[1].Name)
	assert.False(t, d[1].HasLeft)
	assert.Equal(t, "Manufacturer", d[2].Name)
	assert.False(t, d[2].HasRight)
	assert.Equal(t, "Manufacturer: SIEMENS != <absent>", d[2].String())
}

func TestParamsSubsetAndIntersect(t *testing.T) {
	full := sample()
	shared := Params{"Manufacturer": String("SIEMENS")}
	assert.True(t, shared.SubsetOf(full))
	assert.False(t, full.SubsetOf(shared))

	other := sample()
	other["EchoTime"] = Float(4.92, "ms")
	common := full.Intersect(other)
	assert.NotContains(t, common, "EchoTime")
	assert.Contains(t, common, "RepetitionTime")
	assert.True(t, common.SubsetOf(full))
	assert.True(t, common.SubsetOf(other))
}

func TestParamsFilterIsStrictIntersection(t *testing.T) {
	p := sample()
	got := p.Filter([]string{"EchoTime", "SliceThickness"})
	assert.Equal(t, []string{"EchoTime"}, got.Names())

	all := p.Filter(nil)
	assert.True(t, all.Equal(p))
}

func TestParamsCloneIsDeep(t *testing.T) {
	p := sample()
	c := p.Clone()
	c["ImageType"].List[0] = "DERIVED"
	assert.Equal(t, "ORIGINAL", p["ImageType"].List[0])
}
