package handler

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/rootp1/Tapp/internal/contract"
)

var registerOnce sync.Once

// RegisterValidators 注册 tonaddr 校验标签（TON 地址，raw 或 user-friendly 格式）
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		err = v.RegisterValidation("tonaddr", func(fl validator.FieldLevel) bool {
			return contract.ValidAddress(fl.Field().String())
		})
	})
	return err
}
