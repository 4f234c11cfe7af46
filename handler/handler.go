// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package handler adapts ordinary Go functions to the pmcp.ToolHandler
// signature, so tool authors do not have to hand-write JSON decoding
// boilerplate for every registration. Prompt handlers are not adapted.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/pmcp-dev/pmcp"
	"github.com/pmcp-dev/pmcp/code"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// FuncInfo captures the type signature of a valid tool function.
type FuncInfo struct {
	Type         reflect.Type
	Argument     reflect.Type // the non-context argument type, or nil
	ReportsError bool

	fn any
}

// Tool adapts fn to a pmcp.ToolHandler. The concrete value of fn must have a
// signature accepted by Check:
//
//	func(context.Context) error
//	func(context.Context, X) error
//	func(context.Context) (T, error)
//	func(context.Context, X) (T, error)
//
// for a JSON-unmarshalable type X and any type T. A *pmcp.ToolResult T is
// returned as is; any other T is encoded as JSON and returned as text
// content. It panics if fn does not have one of these forms; callers that
// need to report the error instead of panicking should call Check directly.
func Tool(fn any) pmcp.ToolHandler {
	fi, err := Check(fn)
	if err != nil {
		panic("handler.Tool: " + err.Error())
	}
	return fi.Wrap()
}

// Check validates fn's signature and, if valid, returns a FuncInfo able to
// build the corresponding pmcp.ToolHandler.
func Check(fn any) (*FuncInfo, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}
	info := &FuncInfo{Type: reflect.TypeOf(fn), fn: fn}
	if info.Type.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	}
	if info.Type.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	}

	switch np := info.Type.NumIn(); {
	case np == 1:
		if info.Type.In(0) != ctxType {
			return nil, errors.New("first parameter is not context.Context")
		}
	case np == 2:
		if info.Type.In(0) != ctxType {
			return nil, errors.New("first parameter is not context.Context")
		}
		info.Argument = info.Type.In(1)
	default:
		return nil, errors.New("wrong number of parameters")
	}

	switch no := info.Type.NumOut(); {
	case no == 1:
		if info.Type.Out(0) != errType {
			return nil, errors.New("single return value must be error")
		}
	case no == 2:
		if info.Type.Out(1) != errType {
			return nil, errors.New("second return value must be error")
		}
		info.ReportsError = true
	default:
		return nil, errors.New("wrong number of return values")
	}
	return info, nil
}

// Wrap builds the pmcp.ToolHandler for fi. Panics if fi is the zero value.
func (fi *FuncInfo) Wrap() pmcp.ToolHandler {
	if fi == nil || fi.fn == nil {
		panic("handler: invalid FuncInfo value")
	}

	arg := fi.Argument
	var newInput func(ctx reflect.Value, raw json.RawMessage) ([]reflect.Value, error)
	if arg == nil {
		newInput = func(ctx reflect.Value, raw json.RawMessage) ([]reflect.Value, error) {
			if len(raw) > 0 && string(raw) != "null" && string(raw) != "{}" {
				return nil, pmcp.Errorf(code.InvalidParams, "no arguments accepted")
			}
			return []reflect.Value{ctx}, nil
		}
	} else {
		ptr := arg.Kind() == reflect.Ptr
		elem := arg
		if ptr {
			elem = arg.Elem()
		}
		newInput = func(ctx reflect.Value, raw json.RawMessage) ([]reflect.Value, error) {
			in := reflect.New(elem)
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, in.Interface()); err != nil {
					return nil, pmcp.Errorf(code.InvalidParams, "invalid arguments: %v", err)
				}
			}
			if ptr {
				return []reflect.Value{ctx, in}, nil
			}
			return []reflect.Value{ctx, in.Elem()}, nil
		}
	}

	call := reflect.ValueOf(fi.fn).Call
	reportsErr := fi.ReportsError
	return func(ctx context.Context, arguments json.RawMessage) (*pmcp.ToolResult, error) {
		args, ierr := newInput(reflect.ValueOf(ctx), arguments)
		if ierr != nil {
			return nil, ierr
		}
		out := call(args)
		var errVal reflect.Value
		var resVal any
		if reportsErr {
			resVal, errVal = out[0].Interface(), out[1]
		} else {
			errVal = out[0]
		}
		if e, _ := errVal.Interface().(error); e != nil {
			return nil, e
		}
		if tr, ok := resVal.(*pmcp.ToolResult); ok {
			return tr, nil
		}
		if resVal == nil {
			return &pmcp.ToolResult{}, nil
		}
		raw, merr := json.Marshal(resVal)
		if merr != nil {
			return nil, pmcp.Errorf(code.InternalError, "marshal tool result: %v", merr)
		}
		return &pmcp.ToolResult{Content: []pmcp.ContentBlock{pmcp.TextContent(string(raw))}}, nil
	}
}
