package etl

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microbiome-etl/service/config"
	"microbiome-etl/service/models"
	"microbiome-etl/testutil"
)

func strPtr(s string) *string {
	return &s
}

func mergedWithText(texts map[string]*string, order ...string) *models.MergedTable {
	table := &models.MergedTable{Columns: []string{config.FieldSampleID, config.FieldMedText}}
	for _, id := range order {
		table.Samples = append(table.Samples, models.MergedSample{
			SampleRecord: models.SampleRecord{SampleID: id, MedText: texts[id]},
		})
	}
	return table
}

func TestParseDrugDictionary(t *testing.T) {
	entries, err := ParseDrugDictionary(strings.NewReader(testutil.DictionaryFixture()))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.DrugDictionaryEntry{Keyword: "aspirin", GenericName: "acetylsalicylic acid", DrugClass: "NSAID"}, entries[0])
}

func TestParseDrugDictionary_ColumnOrder(t *testing.T) {
	input := testutil.CSV(
		[]string{"drug_class", "keyword", "generic_name"},
		[]string{"Statin", "lipitor", "atorvastatin"},
	)

	entries, err := ParseDrugDictionary(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lipitor", entries[0].Keyword)
	assert.Equal(t, "atorvastatin", entries[0].GenericName)
	assert.Equal(t, "Statin", entries[0].DrugClass)
}

func TestParseDrugDictionary_MissingColumn(t *testing.T) {
	_, err := ParseDrugDictionary(strings.NewReader("keyword,generic_name\naspirin,aspirin\n"))
	assert.Error(t, err)
}

func TestLoadDrugDictionary_NotExist(t *testing.T) {
	_, err := LoadDrugDictionary("/nonexistent/drug_mapping.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMedicationExtractor_Extract(t *testing.T) {
	dictionary, err := ParseDrugDictionary(strings.NewReader(testutil.DictionaryFixture()))
	require.NoError(t, err)

	merged := mergedWithText(map[string]*string{
		"S1": strPtr("Aspirin daily, ibuprofen"),
		"S2": nil,
		"S3": strPtr("none"),
		"S5": strPtr("metformin and ASPIRIN"),
	}, "S1", "S2", "S3", "S5")

	matches, skipped := NewMedicationExtractor(nil).Extract(merged, dictionary)
	assert.False(t, skipped)
	assert.Equal(t, []models.MedicationMatch{
		{SampleID: "S1", GenericName: "acetylsalicylic acid", DrugClass: "NSAID"},
		{SampleID: "S1", GenericName: "ibuprofen", DrugClass: "NSAID"},
		{SampleID: "S5", GenericName: "acetylsalicylic acid", DrugClass: "NSAID"},
		{SampleID: "S5", GenericName: "metformin", DrugClass: "Biguanide"},
	}, matches)
}

func TestMedicationExtractor_Soundness(t *testing.T) {
	dictionary := []models.DrugDictionaryEntry{
		{Keyword: "advil", GenericName: "ibuprofen", DrugClass: "NSAID"},
		{Keyword: "ibuprofen", GenericName: "ibuprofen", DrugClass: "NSAID"},
		{Keyword: "asa", GenericName: "acetylsalicylic acid", DrugClass: "NSAID"},
		{Keyword: "statin", GenericName: "statin", DrugClass: "Statin"},
	}
	texts := map[string]*string{
		"A": strPtr("Advil (ibuprofen) and basal insulin"),
		"B": strPtr("Atorvastatin"),
		"C": strPtr("nothing relevant"),
	}
	merged := mergedWithText(texts, "A", "B", "C")

	matches, _ := NewMedicationExtractor(nil).Extract(merged, dictionary)

	// 每条匹配都能在样本文本中找到对应关键字
	for _, m := range matches {
		text := strings.ToLower(*texts[m.SampleID])
		found := false
		for _, entry := range dictionary {
			if entry.GenericName == m.GenericName && entry.DrugClass == m.DrugClass &&
				strings.Contains(text, strings.ToLower(entry.Keyword)) {
				found = true
				break
			}
		}
		assert.True(t, found, "匹配 %+v 没有对应的关键字", m)
	}
	assert.Len(t, matches, 3)
}

func TestMedicationExtractor_Deduplicates(t *testing.T) {
	dictionary := []models.DrugDictionaryEntry{
		{Keyword: "advil", GenericName: "ibuprofen", DrugClass: "NSAID"},
		{Keyword: "ibuprofen", GenericName: "ibuprofen", DrugClass: "NSAID"},
	}
	merged := mergedWithText(map[string]*string{"A": strPtr("advil = ibuprofen")}, "A")

	recorder := countingRecorder{}
	matches, _ := NewMedicationExtractor(recorder).Extract(merged, dictionary)

	require.Len(t, matches, 1)
	assert.Equal(t, models.MedicationMatch{SampleID: "A", GenericName: "ibuprofen", DrugClass: "NSAID"}, matches[0])
	assert.Equal(t, 1, recorder.get(StageMedication, ReasonDuplicateMedication))

	seen := make(map[models.MedicationMatch]bool)
	for _, m := range matches {
		assert.False(t, seen[m], "重复的用药元组 %+v", m)
		seen[m] = true
	}
}

func TestMedicationExtractor_BlankKeyword(t *testing.T) {
	dictionary := []models.DrugDictionaryEntry{
		{Keyword: "  ", GenericName: "everything", DrugClass: "Bogus"},
		{Keyword: "aspirin", GenericName: "acetylsalicylic acid", DrugClass: "NSAID"},
	}
	merged := mergedWithText(map[string]*string{"A": strPtr("aspirin")}, "A")

	recorder := countingRecorder{}
	matches, _ := NewMedicationExtractor(recorder).Extract(merged, dictionary)

	require.Len(t, matches, 1)
	assert.Equal(t, "acetylsalicylic acid", matches[0].GenericName)
	assert.Equal(t, 1, recorder.get(StageMedication, ReasonBlankKeyword))
}

func TestMedicationExtractor_NoMedTextColumn(t *testing.T) {
	merged := &models.MergedTable{
		Columns: []string{config.FieldSampleID},
		Samples: []models.MergedSample{{SampleRecord: models.SampleRecord{SampleID: "A"}}},
	}

	matches, skipped := NewMedicationExtractor(nil).Extract(merged, []models.DrugDictionaryEntry{
		{Keyword: "a", GenericName: "a", DrugClass: "a"},
	})
	assert.True(t, skipped)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestMedicationExtractor_EmptyDictionary(t *testing.T) {
	merged := mergedWithText(map[string]*string{"A": strPtr("aspirin")}, "A")

	matches, skipped := NewMedicationExtractor(nil).Extract(merged, nil)
	assert.False(t, skipped)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}
