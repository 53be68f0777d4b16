// Package dotenv loads .env files into the process environment, treating a
// missing file as not-an-error so checked-in defaults stay optional.
package dotenv

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads the given .env files, or ./.env when none are named. Variables
// already set in the environment win over file values.
func Load(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
