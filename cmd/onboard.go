package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dayuer/qqbridge/internal/config"
	"github.com/dayuer/qqbridge/internal/utils"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize qqbridge configuration and data directories",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

// accountsExample documents multi-account mode. It is written next to the
// real accounts.yaml path so copying it in activates multi-account mode.
const accountsExample = `# Optional: multiple bot accounts.
# Copy this file to accounts.yaml to activate. Without accounts.yaml the
# single account from config.json (channel.onebot) is used, and every
# unset field below inherits the config.json defaults.
accounts:
  - id: main
    url: ws://127.0.0.1:3001
    access_token: ""
    trigger_words: ["小助手"]
    require_mention: true
  - id: side
    url: ws://127.0.0.1:3002
    allowed_groups: [123456789]
    voice_reply: true
`

func runOnboard(cmd *cobra.Command, args []string) error {
	configPath := config.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
	} else {
		cfg := config.DefaultConfig()
		cfg.Channel.OneBot = &config.OneBotConfig{
			URL:          "ws://127.0.0.1:3001",
			TriggerWords: []string{"小助手"},
		}
		cfg.Host.APIURL = "http://127.0.0.1:18790"
		if err := config.Save(cfg, ""); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", configPath)
	}

	examplePath := filepath.Join(filepath.Dir(configPath), "accounts.example.yaml")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if err := os.WriteFile(examplePath, []byte(accountsExample), 0644); err != nil {
			return fmt.Errorf("writing accounts example: %w", err)
		}
		fmt.Printf("✓ Created %s\n", examplePath)
	}

	for _, dir := range []string{
		utils.GetSessionsPath(),
		utils.GetMediaPath(),
	} {
		if _, err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	fmt.Printf("✓ Data directories under %s\n", utils.GetDataPath())

	fmt.Println("\nqqbridge is ready!")
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Point channel.onebot.url at your OneBot endpoint in %s\n", configPath)
	fmt.Println("  2. Set host.apiUrl to your agent host")
	fmt.Println("  3. Run: qqbridge gateway")
	return nil
}
