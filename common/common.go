package common

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
)

const (
	VERSION = "0.4.0"
)

var idNode *snowflake.Node

func init() {
	var err error
	idNode, err = snowflake.NewNode(0)
	if err != nil {
		panic("failed creating snowflake node: " + err.Error())
	}
}

// GenID returns a new process-unique snowflake ID, used for warning and
// audit entry identifiers.
func GenID() int64 {
	return idNode.Generate().Int64()
}

// SetupLogging configures the global logrus instance the way every
// entrypoint expects it: text formatter plus the caller context hook.
func SetupLogging(timestamps bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !timestamps,
		FullTimestamp:    timestamps,
	})

	logrus.AddHook(ContextHook{})
}

// GetPluginLogger returns a logger with the "p" field set, one per
// component, so log lines can be traced back to their origin.
func GetPluginLogger(name string) *logrus.Entry {
	return logrus.WithField("p", name)
}

// GetFixedPrefixLogger is GetPluginLogger under the name the background
// worker entrypoints historically used.
func GetFixedPrefixLogger(prefix string) *logrus.Entry {
	return logrus.WithField("p", prefix)
}

func ContainsInt64Slice(slice []int64, search int64) bool {
	for _, v := range slice {
		if v == search {
			return true
		}
	}

	return false
}
