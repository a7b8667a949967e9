package eval

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/terrapin-io/terrapin/internal/expr"
	"github.com/terrapin-io/terrapin/internal/ir"
)

// SchemaError reports a malformed declaration: a value with the wrong shape,
// or a reference to something that does not exist. Non-retryable; fixable
// only by correcting the declaration.
type SchemaError struct {
	Subject string
	Detail  string
}

func (e *SchemaError) Error() string {
	if e.Subject == "" {
		return "schema error: " + e.Detail
	}
	return fmt.Sprintf("schema error in %s: %s", e.Subject, e.Detail)
}

// Validate checks a loaded declaration before any graph is built or provider
// touched: unique addresses, reference integrity across resources and
// outputs, and attribute shapes. All violations are reported together.
func Validate(cfg *ir.Config) error {
	var errs []error

	declared := make(map[string]bool, len(cfg.Resources))
	for _, res := range cfg.Resources {
		if res.Name == "" || res.Type == "" {
			errs = append(errs, &SchemaError{Subject: res.Addr(), Detail: "resource type and name are required"})
			continue
		}
		if declared[res.Addr()] {
			errs = append(errs, &SchemaError{Subject: res.Addr(), Detail: "duplicate resource address"})
		}
		declared[res.Addr()] = true
		if res.Provider == "" {
			errs = append(errs, &SchemaError{Subject: res.Addr(), Detail: "resource has no provider"})
		}
	}

	for _, res := range cfg.Resources {
		for _, dep := range res.DependsOn {
			if !declared[dep] {
				errs = append(errs, &SchemaError{
					Subject: res.Addr(),
					Detail:  fmt.Sprintf("dependsOn names undeclared resource %s", dep),
				})
			}
		}

		refs, err := expr.Scan(res.Properties)
		if err != nil {
			errs = append(errs, &SchemaError{Subject: res.Addr(), Detail: err.Error()})
			continue
		}
		for _, ref := range refs {
			if !declared[ref.Target()] {
				errs = append(errs, &SchemaError{
					Subject: res.Addr(),
					Detail:  fmt.Sprintf("reference %s targets an undeclared resource", ref),
				})
			}
		}

		errs = append(errs, validateShape(res)...)
	}

	for name, out := range cfg.Outputs {
		refs, err := expr.Scan(out)
		if err != nil {
			errs = append(errs, &SchemaError{Subject: "output." + name, Detail: err.Error()})
			continue
		}
		for _, ref := range refs {
			if !declared[ref.Target()] {
				errs = append(errs, &SchemaError{
					Subject: "output." + name,
					Detail:  fmt.Sprintf("reference %s targets an undeclared resource", ref),
				})
			}
		}
	}

	return errors.Join(errs...)
}

// validateShape enforces per-type attribute shapes that the PKL schema leaves
// open, such as port tokens inside firewall rules and CIDR notation.
func validateShape(res *ir.Resource) []error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, &SchemaError{Subject: res.Addr(), Detail: fmt.Sprintf(format, args...)})
		}
	}

	switch res.Type {
	case ir.TypeNetwork, ir.TypeSubnetwork:
		if raw, ok := res.Properties["cidr"]; ok {
			cidr, isStr := raw.(string)
			check(isStr && validCIDR(cidr), "cidr %v is not valid CIDR notation", raw)
		}
	case ir.TypeFirewall:
		for _, rule := range listOf(res.Properties["allow"]) {
			m, ok := rule.(map[string]any)
			if !ok {
				check(false, "allow rules must be blocks")
				continue
			}
			for _, port := range listOf(m["ports"]) {
				check(validPortToken(port), "port %v is not numeric", port)
			}
		}
		for _, src := range listOf(res.Properties["source_ranges"]) {
			s, isStr := src.(string)
			check(isStr && (strings.Contains(s, "${") || validCIDR(s)), "source range %v is not valid CIDR notation", src)
		}
	case ir.TypeInstance:
		if raw, ok := res.Properties["boot_disk"]; ok {
			disk, isMap := raw.(map[string]any)
			if !isMap {
				check(false, "boot_disk must be a block")
				break
			}
			if size, ok := disk["size_gb"]; ok {
				check(positiveInt(size), "boot_disk size_gb %v is not a positive integer", size)
			}
		}
	}

	return errs
}

func listOf(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case nil:
		return nil
	default:
		return []any{val}
	}
}

func validCIDR(s string) bool {
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

func validPortToken(v any) bool {
	switch val := v.(type) {
	case int, int64:
		return true
	case float64:
		return val == float64(int64(val))
	case string:
		if strings.Contains(val, "${") {
			return true // resolved later, shape unknowable here
		}
		_, err := strconv.Atoi(val)
		return err == nil
	default:
		return false
	}
}

func positiveInt(v any) bool {
	switch val := v.(type) {
	case int:
		return val > 0
	case int64:
		return val > 0
	case float64:
		return val > 0 && val == float64(int64(val))
	default:
		return false
	}
}
