package config

import (
	"os"
	"strconv"
)

// ApplyEnv overrides selected options from LGCL_* environment variables.
// Unparseable values keep the current setting.
func (c *Config) ApplyEnv() {
	c.Epochs = getenvInt("LGCL_EPOCHS", c.Epochs)
	c.NumTasks = getenvInt("LGCL_NUM_TASKS", c.NumTasks)
	c.BatchSize = getenvInt("LGCL_BATCH_SIZE", c.BatchSize)
	c.Seed = int64(getenvInt("LGCL_SEED", int(c.Seed)))
	c.LR = getenvFloat("LGCL_LR", c.LR)
	c.ClipGrad = getenvFloat("LGCL_CLIP_GRAD", c.ClipGrad)
	c.ClassWeight = getenvFloat("LGCL_CLASS_WEIGHT", c.ClassWeight)
	c.TaskWeight = getenvFloat("LGCL_TASK_WEIGHT", c.TaskWeight)
	c.OutputDir = getenvString("LGCL_OUTPUT_DIR", c.OutputDir)
	c.EncoderModel = getenvString("LGCL_MODEL", c.EncoderModel)
	c.LogLevel = getenvString("LGCL_LOG_LEVEL", c.LogLevel)
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
