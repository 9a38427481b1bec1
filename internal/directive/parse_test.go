package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmpty(t *testing.T) {
	assert.Nil(t, Parse(""))
	assert.Nil(t, Parse("   \n\t"))
}

func TestParseNothingExtracted(t *testing.T) {
	rec := Parse("Добрый день! Чем могу помочь?")
	require.NotNil(t, rec)
	assert.False(t, rec.HasFields())
	assert.Equal(t, "Добрый день! Чем могу помочь?", rec.Raw)
}

func TestParseLabeledWinsOverHeuristics(t *testing.T) {
	text := "Кабинет 214 вас ждет.\nROOM: 9\nFLOOR: 3"
	rec := Parse(text)
	require.NotNil(t, rec)
	assert.Equal(t, "9", rec.Room, "labeled answer overrides the prose mention")
	assert.Equal(t, "3", rec.Floor)
}

func TestParseLabeledRussian(t *testing.T) {
	rec := Parse("ОТДЕЛ: Бухгалтерия\nКАБИНЕТ: 214\nЭТАЖ: 2\nКОНТАКТЫ: +7 777 123 45 67")
	require.NotNil(t, rec)
	assert.Equal(t, "Бухгалтерия", rec.Department)
	assert.Equal(t, "214", rec.Room)
	assert.Equal(t, "2", rec.Floor)
	assert.Equal(t, "+7 777 123 45 67", rec.Contacts)
}

func TestParseRoomRussian(t *testing.T) {
	for _, text := range []string{
		"Вам нужен кабинет 214.",
		"Пройдите в кабинете 214",
		"каб. 214 налево",
		"214 кабинет на втором этаже",
	} {
		rec := Parse(text)
		require.NotNil(t, rec, text)
		assert.Equal(t, "214", rec.Room, text)
	}
}

func TestParseRoomEnglish(t *testing.T) {
	rec := Parse("Accounting is in Room 214B on the second floor.")
	require.NotNil(t, rec)
	assert.Equal(t, "214B", rec.Room)
	assert.Equal(t, "2", rec.Floor)
}

func TestParseRoomAndFloorRussian(t *testing.T) {
	rec := Parse("Кабинет 214, второй этаж")
	require.NotNil(t, rec)
	assert.Equal(t, "214", rec.Room)
	assert.Equal(t, "2", rec.Floor)
}

func TestParseNumericFloor(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Это на 3 этаже", "3"},
		{"этаж 5", "5"},
		{"Go to the 4th floor", "4"},
		{"It is on floor 2", "2"},
		{"поднимитесь на 10 этаж", "10"},
	}
	for _, c := range cases {
		rec := Parse(c.text)
		require.NotNil(t, rec, c.text)
		assert.Equal(t, c.want, rec.Floor, c.text)
	}
}

func TestOrdinalFloorNeedsKeyword(t *testing.T) {
	// "first" without "floor" must not claim a floor.
	rec := Parse("First, turn left at the desk.")
	require.NotNil(t, rec)
	assert.Empty(t, rec.Floor)

	rec = Parse("Take the second door on the floor plan... second floor.")
	require.NotNil(t, rec)
	assert.Equal(t, "2", rec.Floor)
}

func TestParseContacts(t *testing.T) {
	rec := Parse("Контакты: тел. +7 (727) 123-45-67, почта info@kiosk.kz")
	require.NotNil(t, rec)
	assert.Contains(t, rec.Contacts, "+7 (727) 123-45-67")
	assert.Contains(t, rec.Contacts, "info@kiosk.kz")
}

func TestParseDepartmentStopsAtPunctuation(t *testing.T) {
	rec := Parse("Вам в отдел кадров, это на втором этаже.")
	require.NotNil(t, rec)
	assert.Equal(t, "кадров", rec.Department)
}

func TestParseDirectionPriority(t *testing.T) {
	// left outranks the corridor mention.
	rec := Parse("Идите по коридору и поверните налево")
	require.NotNil(t, rec)
	assert.Equal(t, "← left / налево", rec.Direction)

	rec = Parse("Take the elevator upstairs")
	require.NotNil(t, rec)
	assert.Equal(t, "↑ up / вверх", rec.Direction)

	rec = Parse("Идите прямо до конца")
	require.NotNil(t, rec)
	assert.Equal(t, "↑ straight / прямо", rec.Direction)
}

func TestParseDirectionEnglishWordBoundary(t *testing.T) {
	// "lefty" must not register as a turn.
	rec := Parse("Ask for Lefty in the hall")
	require.NotNil(t, rec)
	assert.Empty(t, rec.Direction)
}
