/*
 * @module service/database/sink_test
 * @description GormSink 单元测试，使用 SQLite 内存库
 * @architecture 测试层 - 单元测试
 */

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microbiome-etl/service/config"
	"microbiome-etl/service/models"
	"microbiome-etl/testutil"
)

func floatPtr(v float64) *float64 {
	return &v
}

func strPtr(s string) *string {
	return &s
}

func testMergedTable() *models.MergedTable {
	return &models.MergedTable{
		Columns: []string{config.FieldSampleID, config.FieldAge, config.FieldSex, config.FieldMedText},
		Samples: []models.MergedSample{
			{
				SampleRecord:   models.SampleRecord{SampleID: "S1", Age: floatPtr(45), Sex: strPtr("female"), MedText: strPtr("aspirin")},
				ShannonEntropy: 3.1,
			},
			{
				SampleRecord:   models.SampleRecord{SampleID: "S2", Age: floatPtr(30)},
				ShannonEntropy: 4.2,
			},
			{
				SampleRecord:   models.SampleRecord{SampleID: "S3", Age: floatPtr(61), Sex: strPtr("male")},
				ShannonEntropy: 5.0,
			},
		},
	}
}

func TestGormSink_Replace(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	sink := NewGormSink(tdb.DB, "samples", "patient_medications", 2)
	medications := []models.MedicationMatch{
		{SampleID: "S1", GenericName: "acetylsalicylic acid", DrugClass: "NSAID"},
	}

	require.NoError(t, sink.Replace(context.Background(), testMergedTable(), medications))

	assert.Equal(t, []string{"sample_id", "age", "sex", "shannon_entropy"}, tdb.TableColumns(t, "samples"),
		"只包含存在的列，不落库 med_text")
	assert.Equal(t, []string{"sample_id", "generic_name", "drug_class"}, tdb.TableColumns(t, "patient_medications"))

	rows := tdb.TableRows(t, "samples")
	require.Len(t, rows, 3)
	assert.Equal(t, "S1", rows[0]["sample_id"])
	assert.Equal(t, 45.0, rows[0]["age"])
	assert.Equal(t, "female", rows[0]["sex"])
	assert.InDelta(t, 3.1, rows[0]["shannon_entropy"], 1e-9)
	assert.Nil(t, rows[1]["sex"])

	meds := tdb.TableRows(t, "patient_medications")
	require.Len(t, meds, 1)
	assert.Equal(t, "acetylsalicylic acid", meds[0]["generic_name"])
}

func TestGormSink_ReplaceOverwrites(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	sink := NewGormSink(tdb.DB, "samples", "patient_medications", 0)

	require.NoError(t, sink.Replace(context.Background(), testMergedTable(), []models.MedicationMatch{
		{SampleID: "S1", GenericName: "a", DrugClass: "x"},
		{SampleID: "S2", GenericName: "b", DrugClass: "y"},
	}))

	smaller := &models.MergedTable{
		Columns: []string{config.FieldSampleID},
		Samples: []models.MergedSample{{SampleRecord: models.SampleRecord{SampleID: "S9"}, ShannonEntropy: 1}},
	}
	require.NoError(t, sink.Replace(context.Background(), smaller, nil))

	assert.Equal(t, []string{"sample_id", "shannon_entropy"}, tdb.TableColumns(t, "samples"), "表结构随输入重建")
	rows := tdb.TableRows(t, "samples")
	require.Len(t, rows, 1)
	assert.Equal(t, "S9", rows[0]["sample_id"])
	assert.Empty(t, tdb.TableRows(t, "patient_medications"))
}

func TestGormSink_ReplaceEmpty(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	sink := NewGormSink(tdb.DB, "samples", "patient_medications", 10)

	require.NoError(t, sink.Replace(context.Background(), nil, nil))
	assert.True(t, tdb.HasTable("samples"))
	assert.True(t, tdb.HasTable("patient_medications"))
	assert.Empty(t, tdb.TableRows(t, "samples"))
}

func TestGormSink_RollbackOnFailure(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	good := NewGormSink(tdb.DB, "samples", "patient_medications", 10)
	require.NoError(t, good.Replace(context.Background(), testMergedTable(), nil))

	// 用药表名被视图占用，DROP TABLE 失败，整个事务回滚
	require.NoError(t, tdb.DB.Exec(`CREATE VIEW blocked AS SELECT 1 AS one`).Error)
	bad := NewGormSink(tdb.DB, "samples", "blocked", 10)
	err := bad.Replace(context.Background(), &models.MergedTable{
		Columns: []string{config.FieldSampleID, config.FieldCountry},
		Samples: []models.MergedSample{{SampleRecord: models.SampleRecord{SampleID: "X"}}},
	}, []models.MedicationMatch{{SampleID: "X", GenericName: "g", DrugClass: "c"}})
	require.Error(t, err)

	rows := tdb.TableRows(t, "samples")
	assert.Len(t, rows, 3, "失败后保留上次写入的数据")
	assert.Equal(t, []string{"sample_id", "age", "sex", "shannon_entropy"}, tdb.TableColumns(t, "samples"))
}

func TestSampleColumns(t *testing.T) {
	columns := sampleColumns([]string{config.FieldSampleID, config.FieldBMI, config.FieldCountry, config.FieldMedText})

	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"sample_id", "bmi", "country", "shannon_entropy"}, names)
	assert.Equal(t, columnFloat, columns[1].kind)
	assert.Equal(t, columnText, columns[2].kind)
}
