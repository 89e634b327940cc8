package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/quotedesk/quotedesk/config"
)

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "config outputs your instance's computed configuration",
		Annotations: map[string]string{"core": "false"},
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			redacted := *cfg
			redacted.Server.SecretKey = redact(cfg.Server.SecretKey)
			redacted.External.CorpSecret = redact(cfg.External.CorpSecret)
			redacted.External.CallbackToken = redact(cfg.External.CallbackToken)
			redacted.External.CallbackAESKey = redact(cfg.External.CallbackAESKey)

			data, err := json.MarshalIndent(redacted, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
