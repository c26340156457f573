package tally

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChangeset() Changeset {
	return Changeset{
		Animals: []Action{
			AddAction{Row: row(2, "enc1", "111111", "Lion", 0, 1, 0)},
			UpdateAction{Row: row(3, "enc1", "111113", "Lion", 1, 0, 0), Changed: []string{"sex"}},
			DeleteAction[Animal]{Snapshot: Animal{AccessionNumber: "111116", Active: true, CommonName: "Lion", EnclosureName: "enc1", Sex: SexMale}},
		},
		Groups: []Action{
			UpdateAction{Row: row(4, "enc1", "111112", "Meerkat", 3, 2, 0)},
			DeleteAction[Group]{Snapshot: Group{AccessionNumber: "111117", Active: true, EnclosureName: "enc2", PopulationMale: 4}},
		},
		Enclosures: []string{"enc1"},
	}
}

func TestChangeset_JSON(t *testing.T) {
	cs := sampleChangeset()
	data, err := json.Marshal(cs)
	require.NoError(t, err)

	var envelope struct {
		Animals []map[string]json.RawMessage `json:"animals"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Len(t, envelope.Animals, 3)
	assert.JSONEq(t, `"add"`, string(envelope.Animals[0]["action"]))
	assert.JSONEq(t, `"delete"`, string(envelope.Animals[2]["action"]))
	assert.NotContains(t, envelope.Animals[2], "row")

	var got Changeset
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, cs, got)

	del, ok := got.Groups[1].(DeleteAction[Group])
	require.True(t, ok, "delete keeps its concrete kind")
	assert.Equal(t, "enc2", del.Enclosure())
	assert.Equal(t, 4, del.Snapshot.PopulationMale)
}

func TestChangeset_JSONEmpty(t *testing.T) {
	data, err := json.Marshal(Changeset{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"animals":[],"groups":[],"enclosures":[]}`, string(data))

	var got Changeset
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Empty())
}

func TestChangeset_UnmarshalErrors(t *testing.T) {
	tests := map[string]string{
		"unknown action":      `{"animals":[{"action":"rename","enclosure":"enc1"}]}`,
		"add without row":     `{"animals":[{"action":"add","enclosure":"enc1"}]}`,
		"delete without snap": `{"groups":[{"action":"delete","enclosure":"enc1"}]}`,
		"bad snapshot":        `{"groups":[{"action":"delete","enclosure":"enc1","snapshot":"x"}]}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			var cs Changeset
			assert.Error(t, json.Unmarshal([]byte(in), &cs))
		})
	}
}

func TestChangeset_Summary(t *testing.T) {
	cs := sampleChangeset()
	sum := cs.Summary()
	assert.Equal(t, OpCounts{Add: 1, Update: 1, Delete: 1}, sum.Animals)
	assert.Equal(t, OpCounts{Update: 1, Delete: 1}, sum.Groups)
	assert.Equal(t, 1, sum.Enclosures)
	assert.Equal(t, 3, sum.Animals.Total())
	assert.False(t, cs.Empty())

	rows := cs.UpsertRows()
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"111111", "111113", "111112"},
		[]string{rows[0].Accession, rows[1].Accession, rows[2].Accession})
}

func TestActions_Accessors(t *testing.T) {
	cs := sampleChangeset()
	for _, a := range cs.Animals {
		assert.Equal(t, "enc1", a.Enclosure())
	}
	assert.Equal(t, OpUpdate, cs.Animals[1].Op())
	assert.Equal(t, "111116", cs.Animals[2].Accession())
}

func TestApplyEnclosures(t *testing.T) {
	cs := &Changeset{
		Animals:    []Action{AddAction{Row: row(2, "Zebra Plain", "111111", "Zebra", 1, 0, 0)}},
		Groups:     []Action{DeleteAction[Group]{Snapshot: Group{AccessionNumber: "111112", EnclosureName: "Old Barn"}}},
		Enclosures: []string{"Savanna", "Zebra Plain"},
	}
	assert.Equal(t, []string{"Savanna", "Zebra Plain"}, applyEnclosures(cs))
}

func TestDistinctSpecies(t *testing.T) {
	lion := func(line int, enclosure, genus string) Row {
		r := row(line, enclosure, fmt.Sprintf("1111%02d", line), "Lion", 1, 0, 0)
		r.GenusName = genus
		return r
	}
	goat := row(3, "enc1", "222222", "Goat", 0, 4, 0)

	// Changeset order puts enclosure "a" first; the upload had "b" first.
	got := DistinctSpecies([]Row{lion(4, "a", "Pantera"), goat, lion(2, "b", "Panthera")})
	require.Len(t, got, 2)
	assert.Equal(t, "Lion", got[0].CommonName)
	assert.Equal(t, "Pantera", got[0].GenusName, "last uploaded row wins")
	assert.Equal(t, "Goat", got[1].CommonName)

	got = DistinctSpecies([]Row{lion(2, "a", "Panthera"), lion(3, "a", "Pantera"), lion(4, "a", "Panthera")})
	require.Len(t, got, 1)
	assert.Equal(t, "Panthera", got[0].GenusName)
}
