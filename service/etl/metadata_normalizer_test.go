package etl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microbiome-etl/service/config"
	"microbiome-etl/service/models"
	"microbiome-etl/testutil"
)

func newTestNormalizer(recorder DropRecorder) *MetadataNormalizer {
	return NewMetadataNormalizer(NewSchemaResolver(nil), config.DefaultCountryFilter, config.DefaultMetadataEncoding, recorder)
}

func recordByID(table *models.SampleTable, id string) (models.SampleRecord, bool) {
	for _, r := range table.Records {
		if r.SampleID == id {
			return r, true
		}
	}
	return models.SampleRecord{}, false
}

func TestMetadataNormalizer_Fixture(t *testing.T) {
	recorder := countingRecorder{}
	table, rawRows, err := newTestNormalizer(recorder).Normalize(strings.NewReader(testutil.MetadataFixture()))
	require.NoError(t, err)

	assert.Equal(t, 5, rawRows)
	assert.Equal(t, []string{
		config.FieldSampleID,
		config.FieldAge,
		config.FieldSex,
		config.FieldBMI,
		config.FieldCountry,
		config.FieldAntibioticHistory,
		config.FieldMedText,
	}, table.Columns)

	ids := make([]string, 0, len(table.Records))
	for _, r := range table.Records {
		ids = append(ids, r.SampleID)
	}
	assert.Equal(t, []string{"S1", "S3", "S5"}, ids)

	assert.Equal(t, 1, recorder.get(StageMetadata, ReasonAgeNotNumeric))
	assert.Equal(t, 1, recorder.get(StageMetadata, ReasonCountryFilter))

	s1, ok := recordByID(table, "S1")
	require.True(t, ok)
	require.NotNil(t, s1.Age)
	assert.Equal(t, 45.0, *s1.Age)
	require.NotNil(t, s1.BMI)
	assert.Equal(t, 22.5, *s1.BMI)
	require.NotNil(t, s1.MedText)
	assert.Equal(t, "Aspirin daily, ibuprofen", *s1.MedText)

	s3, ok := recordByID(table, "S3")
	require.True(t, ok)
	assert.Nil(t, s3.BMI, "无法转换的 BMI 置空但保留样本")
	assert.Nil(t, s3.MedText, "空用药文本视为缺失")
}

func TestMetadataNormalizer_AgeFilter(t *testing.T) {
	input := testutil.TSV(
		[]string{"#SampleID", "AGE_YEARS", "COUNTRY"},
		[]string{"A", "unknown", "USA"},
		[]string{"B", "45", "USA"},
		[]string{"C", "", "USA"},
		[]string{"D", "NaN", "USA"},
		[]string{"E", " 12.5 ", "USA"},
	)

	recorder := countingRecorder{}
	table, _, err := newTestNormalizer(recorder).Normalize(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, table.Records, 2)
	assert.Equal(t, "B", table.Records[0].SampleID)
	assert.Equal(t, 45.0, *table.Records[0].Age)
	assert.Equal(t, 12.5, *table.Records[1].Age)
	assert.Equal(t, 3, recorder.get(StageMetadata, ReasonAgeNotNumeric))
}

func TestMetadataNormalizer_MissingOptionalColumns(t *testing.T) {
	input := testutil.TSV(
		[]string{"id", "AGE_YEARS", "COUNTRY"},
		[]string{"S1", "40", "USA"},
	)

	table, _, err := newTestNormalizer(nil).Normalize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{config.FieldSampleID, config.FieldAge, config.FieldCountry}, table.Columns)
	assert.False(t, table.HasColumn(config.FieldBMI))
	assert.False(t, table.HasColumn(config.FieldMedText))
	require.Len(t, table.Records, 1)
	assert.Nil(t, table.Records[0].BMI)
	assert.Nil(t, table.Records[0].MedText)
}

func TestMetadataNormalizer_MissingCountryColumn(t *testing.T) {
	input := testutil.TSV(
		[]string{"id", "AGE_YEARS"},
		[]string{"S1", "40"},
		[]string{"S2", "41"},
	)

	table, _, err := newTestNormalizer(nil).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, table.Records, 2, "缺少国家列时跳过国家过滤")
}

func TestMetadataNormalizer_EmptyCountryFilter(t *testing.T) {
	normalizer := NewMetadataNormalizer(nil, "", config.DefaultMetadataEncoding, nil)
	table, _, err := normalizer.Normalize(strings.NewReader(testutil.MetadataFixture()))
	require.NoError(t, err)

	ids := make([]string, 0, len(table.Records))
	for _, r := range table.Records {
		ids = append(ids, r.SampleID)
	}
	assert.Equal(t, []string{"S1", "S3", "S4", "S5"}, ids)
}

func TestMetadataNormalizer_MissingAgeColumn(t *testing.T) {
	input := testutil.TSV(
		[]string{"id", "COUNTRY"},
		[]string{"S1", "USA"},
	)

	table, _, err := newTestNormalizer(nil).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table.Records, 1)
	assert.Nil(t, table.Records[0].Age)
}

func TestMetadataNormalizer_DuplicateAndBlankIDs(t *testing.T) {
	input := testutil.TSV(
		[]string{"id", "AGE_YEARS", "SEX", "COUNTRY"},
		[]string{"S1", "40", "female", "USA"},
		[]string{"S1", "41", "male", "USA"},
		[]string{"  ", "42", "male", "USA"},
	)

	recorder := countingRecorder{}
	table, _, err := newTestNormalizer(recorder).Normalize(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, table.Records, 1)
	assert.Equal(t, "female", *table.Records[0].Sex, "重复样本ID保留首次出现")
	assert.Equal(t, 1, recorder.get(StageMetadata, ReasonDuplicateSampleID))
	assert.Equal(t, 1, recorder.get(StageMetadata, ReasonBlankSampleID))
}

func TestMetadataNormalizer_Latin1(t *testing.T) {
	// 0xE9 在 latin1 中为 é
	input := "id\tCOUNTRY\tSEX\nS1\tUSA\tf\xe9minin\n"

	table, _, err := newTestNormalizer(nil).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table.Records, 1)
	assert.Equal(t, "féminin", *table.Records[0].Sex)
}

func TestMetadataNormalizer_UnknownEncoding(t *testing.T) {
	normalizer := NewMetadataNormalizer(nil, "", "ebcdic", nil)
	_, _, err := normalizer.Normalize(strings.NewReader("id\nS1\n"))
	assert.Error(t, err)
}

func TestMetadataNormalizer_MissingFile(t *testing.T) {
	_, _, err := newTestNormalizer(nil).NormalizeFile("/nonexistent/metadata.txt")
	assert.Error(t, err)
}

func TestMetadataNormalizer_GzipFile(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(testutil.MetadataFixture()))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := testutil.WriteFile(t, "ag-cleaned.txt.gz", buf.String())
	table, rawRows, err := newTestNormalizer(nil).NormalizeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, rawRows)
	assert.Len(t, table.Records, 3)
}

func TestMetadataNormalizer_QuotedMedicationText(t *testing.T) {
	input := testutil.TSV(
		[]string{"#SampleID", "AGE_YEARS", "COUNTRY", "VIOLATION"},
		[]string{"S1", "40", "USA", `"Lipitor" daily`},
		[]string{"S2", "50", "USA", "aspirin"},
		[]string{"S3", "60", "USA", "none"},
	)

	table, rawRows, err := newTestNormalizer(nil).Normalize(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, rawRows)
	require.Len(t, table.Records, 3)

	s1, ok := recordByID(table, "S1")
	require.True(t, ok)
	require.NotNil(t, s1.MedText)
	assert.Equal(t, "Lipitor daily", *s1.MedText)

	s2, ok := recordByID(table, "S2")
	require.True(t, ok)
	assert.Equal(t, "aspirin", *s2.MedText)
}
