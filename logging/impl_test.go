package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type viewSummary struct {
	Index int
	RMS   float64
	path  string
}

// assertLogMatches fuzzy matches a console line. The time only has its length checked and the
// caller only has its filename checked.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))

	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Level and logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, _ := strings.Cut(expectedParts[3], ":")
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"calib", NewAtomicLevelAt(DEBUG), true, []Appender{NewWriterAppender(notStdout)}}

	logger.Info("detected pattern")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tINFO\tcalib\tlogging/impl_test.go:60\tdetected pattern")

	logger.Infof("view %d of %d", 3, 10)
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tINFO\tcalib\tlogging/impl_test.go:64\tview 3 of 10")

	logger.Warnw("view rejected", "index", "0007", "channel", "ir_l")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	calib	logging/impl_test.go:68	view rejected	{"index":"0007","channel":"ir_l"}`)

	// Only exported struct fields are serialized.
	logger.Debugw("summary", "view", viewSummary{Index: 2, RMS: 0.25, path: "/tmp"})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	calib	logging/impl_test.go:73	summary	{"view":{"Index":2,"RMS":0.25}}`)

	// A dangling key is still logged.
	logger.Errorw("bad call", "orphan")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	ERROR	calib	logging/impl_test.go:78	bad call	{"orphan":"unpaired log key"}`)
}

func TestLevelFiltering(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"rectify", NewAtomicLevelAt(INFO), true, []Appender{NewWriterAppender(notStdout)}}

	logger.Debug("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.SetLevel(DEBUG)
	logger.Debug("shown")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tDEBUG\trectify\tlogging/impl_test.go:91\tshown")

	logger.SetLevel(ERROR)
	logger.Warn("hidden")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
}

func TestSublogger(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"stereocal", NewAtomicLevelAt(WARN), true, []Appender{NewWriterAppender(notStdout)}}

	sub := logger.Sublogger("make-depth")
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
	sub.Warn("skipping frame")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tWARN\tstereocal.make-depth\tlogging/impl_test.go:106\tskipping frame")

	// Changing the sublogger level leaves the parent alone.
	sub.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("rms", "value", 0.31)
	logger.Debug("iteration")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("rms").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterLevelExact(zapcore.DebugLevel).Len(), test.ShouldEqual, 1)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}

func TestFileAppender(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "logs", "stereocal.log")
	appender := NewFileAppender(fn)
	logger := &impl{"calib", NewAtomicLevelAt(INFO), true, []Appender{appender}}

	logger.Infow("bundle written", "path", "calibration.npz")
	test.That(t, appender.Sync(), test.ShouldBeNil)

	data, err := os.ReadFile(fn)
	test.That(t, err, test.ShouldBeNil)
	assertLogMatches(t, bytes.NewBuffer(data),
		`2023-10-30T09:12:09.459Z	INFO	calib	logging/impl_test.go:150	bundle written	{"path":"calibration.npz"}`)
	test.That(t, appender.Writer.(io.Closer).Close(), test.ShouldBeNil)
}
