package sslc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult_ProcedureByName(t *testing.T) {
	r := &ParseResult{
		Procedures: []Procedure{
			{Name: "start"},
			{Name: "Map_Enter_P_Proc"},
		},
	}

	p, ok := r.ProcedureByName("map_enter_p_proc")
	require.True(t, ok)
	assert.Equal(t, "Map_Enter_P_Proc", p.Name)

	_, ok = r.ProcedureByName("no_such_proc")
	assert.False(t, ok)

	var nilResult *ParseResult
	_, ok = nilResult.ProcedureByName("start")
	assert.False(t, ok)
}

func TestParseResult_VariableByName(t *testing.T) {
	r := &ParseResult{
		Variables: []Variable{
			{Name: "counter", Type: VarGlobal},
		},
	}

	v, ok := r.VariableByName("COUNTER")
	require.True(t, ok)
	assert.Equal(t, VarGlobal, v.Type)

	_, ok = r.VariableByName("missing")
	assert.False(t, ok)
}

func TestProcedure_LocalByName(t *testing.T) {
	p := &Procedure{
		Name: "start",
		Variables: []Variable{
			{Name: "my_var", Type: VarLocal},
		},
	}

	v, ok := p.LocalByName("My_Var")
	require.True(t, ok)
	assert.Equal(t, "my_var", v.Name)

	var nilProc *Procedure
	_, ok = nilProc.LocalByName("my_var")
	assert.False(t, ok)
}

func TestErrorFromCode(t *testing.T) {
	assert.NoError(t, errorFromCode(0))
	assert.ErrorIs(t, errorFromCode(1), ErrParseFailed)
	assert.ErrorIs(t, errorFromCode(2), ErrPreprocessFailed)
	assert.ErrorIs(t, errorFromCode(7), ErrUnknown)
}
