package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/conveyorhq/conveyor/agent"
	"github.com/conveyorhq/conveyor/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "conveyor", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("publisher", "log", "event publisher implementation, redis or log")
	cmd.Flags().Int("worker-count", 8, "execution worker goroutines")
	cmd.Flags().Int("poll-interval", 1, "delay queue poll interval in seconds")
	cmd.Flags().Int("breaker-failure-threshold", 5, "consecutive failures before a service circuit opens")
	cmd.Flags().Int("breaker-recovery-timeout", 30, "seconds before an open circuit probes again")
	cmd.Flags().Int("max-concurrent", 10, "max concurrent executions per principal")
	cmd.Flags().Int("max-hourly", 1000, "max executions per principal per hour")
	cmd.Flags().Int("max-daily", 10000, "max executions per principal per day")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.PublisherType = config.PublisherType(viper.GetString("publisher"))
	c.cfg.WorkerCount = viper.GetInt("worker-count")
	c.cfg.PollIntervalSeconds = viper.GetInt("poll-interval")
	c.cfg.BreakerConfig.FailureThreshold = viper.GetInt("breaker-failure-threshold")
	c.cfg.BreakerConfig.RecoveryTimeoutSeconds = viper.GetInt("breaker-recovery-timeout")
	c.cfg.LimitsConfig.MaxConcurrent = viper.GetInt("max-concurrent")
	c.cfg.LimitsConfig.MaxHourly = viper.GetInt("max-hourly")
	c.cfg.LimitsConfig.MaxDaily = viper.GetInt("max-daily")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "conveyor",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
