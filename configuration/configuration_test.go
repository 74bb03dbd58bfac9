package configuration

import (
	"bytes"
	"os"
	"testing"

	"gopkg.in/check.v1"
	"gopkg.in/yaml.v2"

	"github.com/distribution/storage-operator/operator"
)

// Hook up gocheck into the "go test" runner
func Test(t *testing.T) { check.TestingT(t) }

// configStruct is a canonical example configuration, which should map to configYamlV0_1
var configStruct = Configuration{
	Version: "0.1",
	Storage: Storage{
		"s3": Parameters{
			"region":        "us-east-1",
			"bucket":        "my-bucket",
			"secure":        true,
			"maxretries":    3,
			"rootdirectory": nil,
		},
	},
	Layers: []Layer{
		{Name: "retry", Options: Parameters{"maxattempts": 5}},
		{Name: "concurrentlimit", Options: Parameters{"max": 8, "timeout": "2s"}},
		{Name: "mimeguess"},
	},
}

func init() {
	configStruct.Log.Level = "info"
	configStruct.Log.Formatter = "json"
	configStruct.Log.Fields = map[string]interface{}{"environment": "test"}
}

// configYamlV0_1 is a Version 0.1 yaml document representing configStruct
var configYamlV0_1 = `
version: 0.1
log:
  level: info
  formatter: json
  fields:
    environment: test
storage:
  s3:
    region: us-east-1
    bucket: my-bucket
    secure: true
    maxretries: 3
    rootdirectory:
layers:
  - name: retry
    options:
      maxattempts: 5
  - name: concurrentlimit
    options:
      max: 8
      timeout: 2s
  - name: mimeguess
`

// inmemoryConfigYamlV0_1 is a Version 0.1 yaml document specifying an inmemory
// backend with no parameters
var inmemoryConfigYamlV0_1 = `
version: 0.1
storage: inmemory
`

type ConfigSuite struct {
	expectedConfig *Configuration
}

var _ = check.Suite(new(ConfigSuite))

func (suite *ConfigSuite) SetUpTest(c *check.C) {
	os.Clearenv()
	suite.expectedConfig = copyConfig(configStruct)
}

// TestMarshalRoundtrip validates that configStruct can be marshaled and
// unmarshaled without changing any parameters
func (suite *ConfigSuite) TestMarshalRoundtrip(c *check.C) {
	configBytes, err := yaml.Marshal(suite.expectedConfig)
	c.Assert(err, check.IsNil)
	config, err := Parse(bytes.NewReader(configBytes))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseSimple validates that configYamlV0_1 can be parsed into a struct
// matching configStruct
func (suite *ConfigSuite) TestParseSimple(c *check.C) {
	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseInmemory validates that configuration yaml with storage provided as
// a string can be parsed into a Configuration struct with no storage parameters
// and the logging defaults applied
func (suite *ConfigSuite) TestParseInmemory(c *check.C) {
	config, err := Parse(bytes.NewReader([]byte(inmemoryConfigYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config.Storage.Type(), check.Equals, "inmemory")
	c.Assert(config.Storage.Config(), check.DeepEquals, operator.Config{})
	c.Assert(config.Log.Level, check.Equals, Loglevel("info"))
	c.Assert(config.Log.Formatter, check.Equals, "text")
	c.Assert(config.Layers, check.HasLen, 0)
}

// TestStorageConfig validates that parameters are formatted as strings and
// nil values are dropped
func (suite *ConfigSuite) TestStorageConfig(c *check.C) {
	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config.Storage.Config(), check.DeepEquals, operator.Config{
		"region":     "us-east-1",
		"bucket":     "my-bucket",
		"secure":     "true",
		"maxretries": "3",
	})
}

// TestParseIncomplete validates that an incomplete yaml configuration cannot
// be parsed without providing environment variables to fill in the missing
// components.
func (suite *ConfigSuite) TestParseIncomplete(c *check.C) {
	incompleteConfigYaml := "version: 0.1"
	_, err := Parse(bytes.NewReader([]byte(incompleteConfigYaml)))
	c.Assert(err, check.NotNil)

	suite.expectedConfig.Log.Fields = nil
	suite.expectedConfig.Log.Formatter = "text"
	suite.expectedConfig.Storage = Storage{"filesystem": Parameters{"rootdirectory": "/tmp/testroot"}}
	suite.expectedConfig.Layers = nil

	os.Setenv("OPERATOR_STORAGE", "filesystem")
	os.Setenv("OPERATOR_STORAGE_FILESYSTEM_ROOTDIRECTORY", "/tmp/testroot")

	config, err := Parse(bytes.NewReader([]byte(incompleteConfigYaml)))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseWithSameEnvStorage validates that providing environment variables
// that match the given storage type will only include environment-defined
// parameters and remove yaml-defined parameters
func (suite *ConfigSuite) TestParseWithSameEnvStorage(c *check.C) {
	suite.expectedConfig.Storage = Storage{"s3": Parameters{"region": "us-east-1"}}

	os.Setenv("OPERATOR_STORAGE", "s3")
	os.Setenv("OPERATOR_STORAGE_S3_REGION", "us-east-1")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseWithDifferentEnvStorageParams validates that providing environment
// variables that change and add to the given storage parameters will change
// and add parameters to the parsed Configuration struct
func (suite *ConfigSuite) TestParseWithDifferentEnvStorageParams(c *check.C) {
	suite.expectedConfig.Storage.Parameters()["region"] = "us-west-1"
	suite.expectedConfig.Storage.Parameters()["secure"] = false
	suite.expectedConfig.Storage.Parameters()["newparam"] = "some Value"

	os.Setenv("OPERATOR_STORAGE_S3_REGION", "us-west-1")
	os.Setenv("OPERATOR_STORAGE_S3_SECURE", "false")
	os.Setenv("OPERATOR_STORAGE_S3_NEWPARAM", "some Value")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseWithSameEnvLoglevel validates that the log level can be overridden
// and is normalized to lower case
func (suite *ConfigSuite) TestParseWithEnvLogging(c *check.C) {
	suite.expectedConfig.Log.Level = "debug"
	suite.expectedConfig.Log.Formatter = "text"

	os.Setenv("OPERATOR_LOG_LEVEL", "DEBUG")
	os.Setenv("OPERATOR_LOG_FORMATTER", "text")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseInvalidLoglevel validates that the parser will fail to parse a
// configuration if the loglevel is malformed
func (suite *ConfigSuite) TestParseInvalidLoglevel(c *check.C) {
	invalidConfigYaml := "version: 0.1\nlog:\n  level: derp\nstorage: inmemory"
	_, err := Parse(bytes.NewReader([]byte(invalidConfigYaml)))
	c.Assert(err, check.NotNil)

	os.Setenv("OPERATOR_LOG_LEVEL", "derp")

	_, err = Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.NotNil)
}

// TestParseInvalidFormatter validates that only the text and json formatters
// are accepted
func (suite *ConfigSuite) TestParseInvalidFormatter(c *check.C) {
	invalidConfigYaml := "version: 0.1\nlog:\n  formatter: logstash\nstorage: inmemory"
	_, err := Parse(bytes.NewReader([]byte(invalidConfigYaml)))
	c.Assert(err, check.ErrorMatches, `unsupported log formatter: "logstash"`)
}

// TestParseLayerOverrides validates that layer options can be overridden by
// index
func (suite *ConfigSuite) TestParseLayerOverrides(c *check.C) {
	suite.expectedConfig.Layers[1].Options["max"] = 2
	suite.expectedConfig.Layers[2].Options = Parameters{"sniff": true}

	os.Setenv("OPERATOR_LAYERS_1_OPTIONS_MAX", "2")
	os.Setenv("OPERATOR_LAYERS_2_OPTIONS_SNIFF", "true")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, suite.expectedConfig)
}

// TestParseUnnamedLayer validates that every layer must be named
func (suite *ConfigSuite) TestParseUnnamedLayer(c *check.C) {
	invalidConfigYaml := "version: 0.1\nstorage: inmemory\nlayers:\n  - options:\n      max: 1"
	_, err := Parse(bytes.NewReader([]byte(invalidConfigYaml)))
	c.Assert(err, check.ErrorMatches, "layer 0 has no name")
}

// TestParseMultipleStorage validates that exactly one storage type is accepted
func (suite *ConfigSuite) TestParseMultipleStorage(c *check.C) {
	invalidConfigYaml := "version: 0.1\nstorage:\n  inmemory:\n  filesystem:\n    rootdirectory: /tmp"
	_, err := Parse(bytes.NewReader([]byte(invalidConfigYaml)))
	c.Assert(err, check.ErrorMatches, `must provide exactly one storage type.*`)
}

// TestParseInvalidVersion validates that the parser will fail to parse a newer
// configuration version than the CurrentVersion
func (suite *ConfigSuite) TestParseInvalidVersion(c *check.C) {
	suite.expectedConfig.Version = MajorMinorVersion(CurrentVersion.Major(), CurrentVersion.Minor()+1)
	configBytes, err := yaml.Marshal(suite.expectedConfig)
	c.Assert(err, check.IsNil)
	_, err = Parse(bytes.NewReader(configBytes))
	c.Assert(err, check.NotNil)
}

func copyConfig(config Configuration) *Configuration {
	configCopy := new(Configuration)

	configCopy.Version = MajorMinorVersion(config.Version.Major(), config.Version.Minor())
	configCopy.Log.Level = config.Log.Level
	configCopy.Log.Formatter = config.Log.Formatter
	configCopy.Log.ReportCaller = config.Log.ReportCaller
	if config.Log.Fields != nil {
		configCopy.Log.Fields = make(map[string]interface{})
		for k, v := range config.Log.Fields {
			configCopy.Log.Fields[k] = v
		}
	}

	configCopy.Storage = Storage{config.Storage.Type(): Parameters{}}
	for k, v := range config.Storage.Parameters() {
		configCopy.Storage.Parameters()[k] = v
	}

	for _, l := range config.Layers {
		layer := Layer{Name: l.Name}
		if l.Options != nil {
			layer.Options = make(Parameters)
			for k, v := range l.Options {
				layer.Options[k] = v
			}
		}
		configCopy.Layers = append(configCopy.Layers, layer)
	}

	return configCopy
}
