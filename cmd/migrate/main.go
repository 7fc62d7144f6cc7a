package main

import (
	"errors"
	"flag"

	"sampark/internal/app"
	"sampark/internal/config"
	"sampark/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

func main() {
	configFile := flag.String("config", "", "config file (default is ./config.yml)")
	seed := flag.Bool("seed", false, "insert a default team, agent and tags")
	flag.Parse()

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logrus.Fatalf("Failed to read config: %v", err)
		}
	}

	cfg := config.Load()
	log, err := config.InitLogger(cfg)
	if err != nil {
		logrus.Fatalf("init logger: %v", err)
	}

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Info("Starting database migration...")
	if err := app.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// 规则引擎热路径上的复合索引
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_automation_outcomes_rule_executed ON automation_outcomes(rule_id, executed_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_conversations_customer_status ON conversations(customer_id, status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at)",
	} {
		if err := db.Exec(stmt).Error; err != nil {
			log.Warnf("create index: %v", err)
		}
	}

	if *seed {
		if err := seedDefaults(db); err != nil {
			log.Fatalf("Failed to seed defaults: %v", err)
		}
		log.Info("Default data seeded")
	}
	log.Info("Migration completed")
}

func seedDefaults(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		team := models.Team{Name: "support"}
		if err := tx.Where(models.Team{Name: team.Name}).FirstOrCreate(&team).Error; err != nil {
			return err
		}
		agent := models.Agent{Username: "agent", Name: "Default Agent", Email: "agent@sampark.local", Status: "online", TeamID: &team.ID}
		if err := tx.Where(models.Agent{Username: agent.Username}).FirstOrCreate(&agent).Error; err != nil {
			return err
		}
		for _, name := range []string{"escalated", "vip", "refund"} {
			tag := models.Tag{Name: name}
			if err := tx.Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
