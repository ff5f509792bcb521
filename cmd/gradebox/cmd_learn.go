package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/progress"
	"github.com/felixgeelhaar/gradebox/internal/session"
)

// learnerArgs holds positional arguments and the flags shared by the
// learner commands. Flags may appear anywhere.
type learnerArgs struct {
	positional []string
	user       string
	webDir     string
}

func parseLearnerArgs(args []string) (learnerArgs, error) {
	var la learnerArgs
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--user", "--web":
			if i+1 >= len(args) {
				return la, fmt.Errorf("%s needs a value", arg)
			}
			i++
			if arg == "--user" {
				la.user = args[i]
			} else {
				la.webDir = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--") {
				return la, fmt.Errorf("unknown flag: %s", arg)
			}
			la.positional = append(la.positional, arg)
		}
	}
	return la, nil
}

// readCode builds the submission from a single file or a web directory.
func readCode(la learnerArgs) (domain.Code, error) {
	if la.webDir != "" {
		var code domain.Code
		for name, dst := range map[string]*string{
			"index.html": &code.HTML,
			"style.css":  &code.CSS,
			"script.js":  &code.JS,
		} {
			data, err := os.ReadFile(filepath.Join(la.webDir, name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return code, fmt.Errorf("read %s: %w", name, err)
			}
			*dst = string(data)
		}
		return code, nil
	}

	if len(la.positional) < 2 {
		return domain.Code{}, errors.New("usage: gradebox run <exercise-id> <file> | --web <dir>")
	}
	data, err := os.ReadFile(la.positional[1])
	if err != nil {
		return domain.Code{}, fmt.Errorf("read code: %w", err)
	}
	return domain.SingleDocument(string(data)), nil
}

// cmdRun grades code for an exercise
func cmdRun(args []string) error {
	la, err := parseLearnerArgs(args)
	if err != nil {
		return err
	}
	if len(la.positional) < 1 {
		return errors.New("usage: gradebox run <exercise-id> <file> | --web <dir>")
	}
	code, err := readCode(la)
	if err != nil {
		return err
	}

	c, err := newClient(la.user)
	if err != nil {
		return err
	}
	defer c.Close()

	var result struct {
		session.Attempt
		NextExerciseID string `json:"next_exercise_id"`
		SaveError      string `json:"save_error"`
		PassError      string `json:"pass_error"`
	}
	body := map[string]any{"code": code}
	if err := c.do("POST", "/v1/runs/"+la.positional[0], body, &result); err != nil {
		return err
	}

	if len(result.Run.Lines) > 0 {
		fmt.Println("Output:")
		for _, line := range result.Run.Lines {
			if line.Kind == domain.OutputError {
				fmt.Printf("  ✗ %s\n", line.Text)
			} else {
				fmt.Printf("  %s\n", line.Text)
			}
		}
		fmt.Println()
	}

	fmt.Println("Checks:")
	for _, rr := range result.Report.Results {
		mark := "✓"
		if !rr.Result.Pass {
			mark = "✗"
		}
		fmt.Printf("  %s %s %s\n", mark, rr.Check.Type, rr.Check.Value)
		if !rr.Result.Pass {
			for _, msg := range rr.Result.Messages {
				fmt.Printf("      %s\n", msg)
			}
		}
	}
	if result.Run.TimedOut {
		fmt.Println("  ! run timed out")
	}
	fmt.Println()

	for _, warning := range []string{result.SaveError, result.PassError} {
		if warning != "" {
			fmt.Printf("Warning: %s\n", warning)
		}
	}

	if !result.Passed {
		return fmt.Errorf("%d of %d checks passed", result.Report.PassedChecks, result.Report.TotalChecks)
	}

	fmt.Printf("Passed %d/%d checks\n", result.Report.PassedChecks, result.Report.TotalChecks)
	if n := result.Notification; n != nil {
		fmt.Printf("%s %s\n", n.Message, n.Description)
	} else if result.Outcome != nil && result.Outcome.Award == progress.AwardAlreadyGranted {
		fmt.Println("XP already earned for this exercise")
	}
	if result.NextExerciseID != "" {
		fmt.Printf("Next: %s\n", result.NextExerciseID)
	}
	return nil
}

// cmdProgress shows the learner's state for an exercise
func cmdProgress(args []string) error {
	la, err := parseLearnerArgs(args)
	if err != nil {
		return err
	}
	if len(la.positional) < 1 {
		return errors.New("usage: gradebox progress <exercise-id>")
	}

	c, err := newClient(la.user)
	if err != nil {
		return err
	}
	defer c.Close()

	var result struct {
		ExerciseID    string                 `json:"exercise_id"`
		Progress      *domain.ProgressRecord `json:"progress"`
		Code          domain.Code            `json:"code"`
		ProgressError string                 `json:"progress_error"`
	}
	if err := c.do("GET", "/v1/progress/"+la.positional[0], nil, &result); err != nil {
		return err
	}

	fmt.Printf("Exercise: %s\n", result.ExerciseID)
	if result.ProgressError != "" || result.Progress == nil {
		fmt.Printf("Progress: unavailable (%s)\n", result.ProgressError)
	} else {
		fmt.Printf("State:    %s\n", result.Progress.State)
		awarded := "not yet"
		if result.Progress.XPAwarded {
			awarded = "awarded"
		}
		fmt.Printf("XP:       %s\n", awarded)
		if result.Progress.PassedAt != nil {
			fmt.Printf("Passed:   %s\n", result.Progress.PassedAt.Local().Format("2006-01-02 15:04"))
		}
	}

	fmt.Println("\nCode:")
	switch c := result.Code; {
	case !c.IsMultiFile():
		fmt.Println(c.Document)
	case c.HTML == "" && c.CSS == "":
		fmt.Println(c.JS)
	default:
		fmt.Printf("--- html ---\n%s\n--- css ---\n%s\n--- js ---\n%s\n", c.HTML, c.CSS, c.JS)
	}
	return nil
}

// cmdHint prints the nth hint
func cmdHint(args []string) error {
	la, err := parseLearnerArgs(args)
	if err != nil {
		return err
	}
	if len(la.positional) < 1 {
		return errors.New("usage: gradebox hint <exercise-id> [n]")
	}
	n := 1
	if len(la.positional) > 1 {
		n, err = strconv.Atoi(la.positional[1])
		if err != nil || n < 1 {
			return fmt.Errorf("hint number must be a positive integer")
		}
	}

	c, err := newClient(la.user)
	if err != nil {
		return err
	}
	defer c.Close()

	var result struct {
		N     int    `json:"n"`
		Total int    `json:"total"`
		Hint  string `json:"hint"`
	}
	if err := c.do("GET", fmt.Sprintf("/v1/hints/%s?n=%d", la.positional[0], n), nil, &result); err != nil {
		return err
	}

	fmt.Printf("Hint %d of %d: %s\n", result.N, result.Total, result.Hint)
	return nil
}

// cmdXP shows XP and level
func cmdXP(args []string) error {
	la, err := parseLearnerArgs(args)
	if err != nil {
		return err
	}

	c, err := newClient(la.user)
	if err != nil {
		return err
	}
	defer c.Close()

	var result struct {
		UserID   string                 `json:"user_id"`
		XPTotal  int                    `json:"xp_total"`
		Level    int                    `json:"level"`
		Progress progress.LevelProgress `json:"progress"`
	}
	if err := c.do("GET", "/v1/me/xp", nil, &result); err != nil {
		return err
	}

	fmt.Printf("User:  %s\n", result.UserID)
	fmt.Printf("XP:    %d\n", result.XPTotal)
	fmt.Printf("Level: %d\n", result.Level)
	fmt.Printf("       %s %d/%d to level %d\n",
		renderProgressBar(result.Progress.ProgressPercent/100, 30),
		result.Progress.XPInCurrentLevel, result.Progress.XPForNextLevel, result.Level+1)
	return nil
}
